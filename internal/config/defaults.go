package config

import "time"

// Default values shared by the config loader and the CLI.
const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 8000
	DefaultSendBuffer = 64
	DefaultStorePath  = "taskpulse.db"
)

// Broker drivers.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// DefaultRetryDelays are the waits between push retries after a transient
// failure.
var DefaultRetryDelays = []time.Duration{time.Second, 3 * time.Second}

var (
	validLogLevels  = []string{"trace", "debug", "info", "warn", "error"}
	validLogFormats = []string{"console", "json"}
	validUrgencies  = []string{"very-low", "low", "normal", "high"}
	validAlgorithms = []string{"HS256", "HS384", "HS512"}
)
