// Package config handles configuration management for taskpulse.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TASKPULSE_BROKER_REDIS_URL.
const EnvPrefix = "TASKPULSE"

// Config holds all configuration for the application. It never carries
// secret values, only the names they are resolved under.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Push      PushConfig      `mapstructure:"push" yaml:"push"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Secrets   SecretsConfig   `mapstructure:"secrets" yaml:"secrets"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GatewayConfig holds WebSocket gateway configuration.
type GatewayConfig struct {
	// SendBuffer is the per-connection outbound queue length. A client whose
	// queue fills is disconnected as a slow consumer.
	SendBuffer int `mapstructure:"send_buffer" yaml:"send_buffer"`
}

// BrokerConfig selects and tunes the pub/sub broker.
type BrokerConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	RedisURL       string        `mapstructure:"redis_url" yaml:"redis_url"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	BackoffJitter  float64       `mapstructure:"backoff_jitter" yaml:"backoff_jitter"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	BufferSize     int           `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// PushConfig holds Web Push delivery configuration.
type PushConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Subscriber string `mapstructure:"subscriber" yaml:"subscriber"`

	// VAPIDPublicKey may be set inline; when empty it is resolved from the
	// secret chain under VAPIDPublicKeyName.
	VAPIDPublicKey      string `mapstructure:"vapid_public_key" yaml:"vapid_public_key"`
	VAPIDPublicKeyName  string `mapstructure:"vapid_public_key_name" yaml:"vapid_public_key_name"`
	VAPIDPrivateKeyName string `mapstructure:"vapid_private_key_name" yaml:"vapid_private_key_name"`

	TTLSeconds     int             `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	Urgency        string          `mapstructure:"urgency" yaml:"urgency"`
	Workers        int             `mapstructure:"workers" yaml:"workers"`
	QueueSize      int             `mapstructure:"queue_size" yaml:"queue_size"`
	Concurrency    int             `mapstructure:"concurrency" yaml:"concurrency"`
	RetryDelays    []time.Duration `mapstructure:"retry_delays" yaml:"retry_delays"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout" yaml:"request_timeout"`
	CacheTTL       time.Duration   `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// StoreConfig locates the subscription database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecretName string   `mapstructure:"jwt_secret_name" yaml:"jwt_secret_name"`
	Algorithms    []string `mapstructure:"algorithms" yaml:"algorithms"`
	// DisabledUsers are rejected as inactive.
	DisabledUsers []int64 `mapstructure:"disabled_users" yaml:"disabled_users"`
	// IngestTokenName names the shared token collaborators present to
	// POST /internal/events. The endpoint is off when it does not resolve.
	IngestTokenName string `mapstructure:"ingest_token_name" yaml:"ingest_token_name"`
}

// SecretsConfig configures the secret resolution chain:
// environment, then Docker secret files, then encrypted values, then Vault.
type SecretsConfig struct {
	DockerDir       string      `mapstructure:"docker_dir" yaml:"docker_dir"`
	EncryptedSuffix string      `mapstructure:"encrypted_suffix" yaml:"encrypted_suffix"`
	Salt            string      `mapstructure:"salt" yaml:"salt"`
	Vault           VaultConfig `mapstructure:"vault" yaml:"vault"`
}

// VaultConfig locates a KV v2 secret. The token is read from VAULT_TOKEN.
type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Mount   string `mapstructure:"mount" yaml:"mount"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RateLimitConfig limits the REST subscription API per user.
type RateLimitConfig struct {
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	TrustProxy        bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`
}

// DebugConfig enables the /debug endpoints.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

// Loader reads configuration and can watch the file it came from.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a viper instance. An empty configPath searches
// ./config.yaml, $HOME/.taskpulse and /etc/taskpulse.
func NewLoader(configPath string) *Loader {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.taskpulse")
		v.AddConfigPath("/etc/taskpulse")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{v: v}
}

// Load reads, post-processes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the new configuration each time the config
// file is written. Invalid edits are logged and ignored. Watch is a no-op
// when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		log.Info().Str("file", e.Name).Msg("config file changed")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("gateway.send_buffer", DefaultSendBuffer)

	v.SetDefault("broker.driver", BrokerMemory)
	v.SetDefault("broker.redis_url", "redis://localhost:6379/0")
	v.SetDefault("broker.backoff_initial", 250*time.Millisecond)
	v.SetDefault("broker.backoff_max", 5*time.Second)
	v.SetDefault("broker.backoff_jitter", 0.2)
	v.SetDefault("broker.publish_timeout", 2*time.Second)
	v.SetDefault("broker.buffer_size", 64)

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.subscriber", "admin@example.com")
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_public_key_name", "VAPID_PUBLIC_KEY")
	v.SetDefault("push.vapid_private_key_name", "VAPID_PRIVATE_KEY")
	v.SetDefault("push.ttl_seconds", 60)
	v.SetDefault("push.urgency", "normal")
	v.SetDefault("push.workers", 4)
	v.SetDefault("push.queue_size", 256)
	v.SetDefault("push.concurrency", 8)
	v.SetDefault("push.retry_delays", DefaultRetryDelays)
	v.SetDefault("push.request_timeout", 10*time.Second)
	v.SetDefault("push.cache_ttl", 30*time.Second)

	v.SetDefault("store.path", DefaultStorePath)

	v.SetDefault("auth.jwt_secret_name", "SECRET_KEY")
	v.SetDefault("auth.algorithms", []string{"HS256"})
	v.SetDefault("auth.disabled_users", []int64{})
	v.SetDefault("auth.ingest_token_name", "INGEST_TOKEN")

	v.SetDefault("secrets.docker_dir", "/run/secrets")
	v.SetDefault("secrets.encrypted_suffix", "_ENCRYPTED")
	v.SetDefault("secrets.salt", "")
	v.SetDefault("secrets.vault.enabled", false)
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.mount", "secret")
	v.SetDefault("secrets.vault.path", "taskpulse")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("ratelimit.requests_per_minute", 60)
	v.SetDefault("ratelimit.trust_proxy", false)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// postProcess normalizes values that viper leaves as typed.
func postProcess(cfg *Config) error {
	cfg.Broker.Driver = strings.ToLower(strings.TrimSpace(cfg.Broker.Driver))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Push.Urgency = strings.ToLower(strings.TrimSpace(cfg.Push.Urgency))
	cfg.Push.Subscriber = strings.TrimPrefix(cfg.Push.Subscriber, "mailto:")

	if cfg.Store.Path != "" && cfg.Store.Path != ":memory:" {
		absPath, err := filepath.Abs(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to resolve store path: %w", err)
		}
		cfg.Store.Path = absPath
	}

	return nil
}
