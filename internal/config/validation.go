package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateGateway(&cfg.Gateway); err != nil {
		return err
	}
	if err := validateBroker(&cfg.Broker); err != nil {
		return err
	}
	if err := validatePush(&cfg.Push); err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return err
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("ratelimit.requests_per_minute cannot be negative")
	}
	if cfg.Secrets.Vault.Enabled && cfg.Secrets.Vault.Path == "" {
		return fmt.Errorf("secrets.vault.path is required when vault is enabled")
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := validateURL(origin, "server.allowed_origins", []string{"http", "https"}); err != nil {
			return err
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	return nil
}

func validateGateway(cfg *GatewayConfig) error {
	if cfg.SendBuffer < 1 {
		return fmt.Errorf("gateway.send_buffer must be at least 1")
	}
	if cfg.SendBuffer > 4096 {
		return fmt.Errorf("gateway.send_buffer cannot exceed 4096")
	}
	return nil
}

func validateBroker(cfg *BrokerConfig) error {
	switch cfg.Driver {
	case BrokerMemory:
	case BrokerRedis:
		if err := validateURL(cfg.RedisURL, "broker.redis_url", []string{"redis", "rediss", "unix"}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("broker.driver must be one of: %s, %s", BrokerMemory, BrokerRedis)
	}
	if cfg.BackoffInitial <= 0 {
		return fmt.Errorf("broker.backoff_initial must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		return fmt.Errorf("broker.backoff_max cannot be less than broker.backoff_initial")
	}
	if cfg.BackoffJitter <= 0 || cfg.BackoffJitter >= 1 {
		return fmt.Errorf("broker.backoff_jitter must be greater than 0 and less than 1")
	}
	if cfg.PublishTimeout <= 0 {
		return fmt.Errorf("broker.publish_timeout must be positive")
	}
	return nil
}

func validatePush(cfg *PushConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.VAPIDPrivateKeyName == "" {
		return fmt.Errorf("push.vapid_private_key_name cannot be empty")
	}
	if cfg.TTLSeconds < 0 {
		return fmt.Errorf("push.ttl_seconds cannot be negative")
	}
	if !slices.Contains(validUrgencies, cfg.Urgency) {
		return fmt.Errorf("push.urgency must be one of: %s", strings.Join(validUrgencies, ", "))
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("push.workers must be at least 1")
	}
	if cfg.QueueSize < 1 {
		return fmt.Errorf("push.queue_size must be at least 1")
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("push.concurrency must be at least 1")
	}
	for _, d := range cfg.RetryDelays {
		if d < 0 {
			return fmt.Errorf("push.retry_delays cannot contain negative durations")
		}
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("push.request_timeout must be positive")
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("push.cache_ttl must be positive")
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if cfg.JWTSecretName == "" {
		return fmt.Errorf("auth.jwt_secret_name cannot be empty")
	}
	if len(cfg.Algorithms) == 0 {
		return fmt.Errorf("auth.algorithms cannot be empty")
	}
	for _, alg := range cfg.Algorithms {
		if !slices.Contains(validAlgorithms, alg) {
			return fmt.Errorf("auth.algorithms has unsupported value %q (want one of %s)", alg, strings.Join(validAlgorithms, ", "))
		}
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if !slices.Contains(validLogLevels, cfg.Level) {
		return fmt.Errorf("logging.level must be one of: %s", strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, cfg.Format) {
		return fmt.Errorf("logging.format must be one of: %s", strings.Join(validLogFormats, ", "))
	}
	return nil
}

// validateURL validates that a URL is well-formed and uses an allowed scheme.
func validateURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}

	schemeValid := false
	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			schemeValid = true
			break
		}
	}
	if !schemeValid {
		return fmt.Errorf("%s must use one of these schemes: %s", fieldName, strings.Join(allowedSchemes, ", "))
	}

	if parsed.Host == "" && !strings.EqualFold(parsed.Scheme, "unix") {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	return nil
}
