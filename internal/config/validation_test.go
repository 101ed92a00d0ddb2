package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{SendBuffer: DefaultSendBuffer},
		Broker: BrokerConfig{
			Driver:         BrokerMemory,
			BackoffInitial: 250 * time.Millisecond,
			BackoffMax:     5 * time.Second,
			BackoffJitter:  0.2,
			PublishTimeout: 2 * time.Second,
		},
		Push: PushConfig{
			Enabled:             true,
			VAPIDPrivateKeyName: "VAPID_PRIVATE_KEY",
			TTLSeconds:          60,
			Urgency:             "normal",
			Workers:             4,
			QueueSize:           256,
			Concurrency:         8,
			RetryDelays:         DefaultRetryDelays,
			RequestTimeout:      10 * time.Second,
			CacheTTL:            30 * time.Second,
		},
		Store:   StoreConfig{Path: "/var/lib/taskpulse/push.db"},
		Auth:    AuthConfig{JWTSecretName: "SECRET_KEY", Algorithms: []string{"HS256"}},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "server.port must be between 1 and 65535"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port must be between 1 and 65535"},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "server.host cannot be empty"},
		{"bad origin", func(c *Config) { c.Server.AllowedOrigins = []string{"ftp://x"} }, "server.allowed_origins"},
		{"wildcard origin", func(c *Config) { c.Server.AllowedOrigins = []string{"*"} }, ""},
		{"zero send buffer", func(c *Config) { c.Gateway.SendBuffer = 0 }, "gateway.send_buffer"},
		{"unknown driver", func(c *Config) { c.Broker.Driver = "nats" }, "broker.driver"},
		{"redis without url", func(c *Config) { c.Broker.Driver = BrokerRedis }, "broker.redis_url"},
		{"redis url", func(c *Config) {
			c.Broker.Driver = BrokerRedis
			c.Broker.RedisURL = "redis://localhost:6379/0"
		}, ""},
		{"backoff max below initial", func(c *Config) { c.Broker.BackoffMax = time.Millisecond }, "broker.backoff_max"},
		{"jitter out of range", func(c *Config) { c.Broker.BackoffJitter = 1.5 }, "broker.backoff_jitter"},
		{"jitter zero", func(c *Config) { c.Broker.BackoffJitter = 0 }, "broker.backoff_jitter"},
		{"jitter one", func(c *Config) { c.Broker.BackoffJitter = 1 }, "broker.backoff_jitter"},
		{"bad urgency", func(c *Config) { c.Push.Urgency = "urgent" }, "push.urgency"},
		{"zero workers", func(c *Config) { c.Push.Workers = 0 }, "push.workers"},
		{"negative retry", func(c *Config) { c.Push.RetryDelays = []time.Duration{-time.Second} }, "push.retry_delays"},
		{"push disabled skips checks", func(c *Config) {
			c.Push.Enabled = false
			c.Push.Workers = 0
		}, ""},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"unsupported algorithm", func(c *Config) { c.Auth.Algorithms = []string{"RS256"} }, "auth.algorithms"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"vault without path", func(c *Config) { c.Secrets.Vault.Enabled = true }, "secrets.vault.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}
