// Package middleware provides HTTP middleware for the taskpulse API.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// Rate limit defaults.
const (
	DefaultRequestLimit = 60
	DefaultWindow       = time.Minute
)

// RateLimitConfig holds configuration for the rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests per key in WindowSize.
	// Zero disables limiting.
	RequestLimit int
	WindowSize   time.Duration

	// KeyFunc extracts the rate limit key. Defaults to ClientIPKey(false).
	KeyFunc httprate.KeyFunc
}

// ClientIPKey keys requests on the client address. Forwarded headers are
// only honored when trustProxy is set; otherwise they can be spoofed.
func ClientIPKey(trustProxy bool) httprate.KeyFunc {
	if trustProxy {
		return httprate.KeyByRealIP
	}
	return httprate.KeyByIP
}

// RateLimit returns a sliding-window limiter. Rejected requests get 429
// with a Retry-After header.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindow
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIPKey(false)
	}
	retryAfter := strconv.Itoa(int(cfg.WindowSize.Seconds()))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":"Too many requests. Please try again later."}`))
		}),
	)
}
