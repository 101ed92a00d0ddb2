// Package http implements the HTTP surface of taskpulse: push subscription
// management, health, metrics and the WebSocket gateway mount.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/secrets"
	"github.com/brianly1003/taskpulse/internal/security"
	"github.com/brianly1003/taskpulse/internal/server/common"
	"github.com/brianly1003/taskpulse/internal/server/http/middleware"
)

// DefaultRequestTimeout bounds every /api request.
const DefaultRequestTimeout = 10 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures the server. Zero values disable the optional parts.
type Options struct {
	Host string
	Port int

	// Auth validates bearer tokens on /api routes. A nil Auth rejects every
	// request.
	Auth common.Authenticator

	// Store backs the subscription endpoints.
	Store ports.SubscriptionStore

	// WebSocket is mounted under /ws/.
	WebSocket http.Handler

	OriginChecker *security.OriginChecker

	// RateLimit applies per authenticated user unless KeyFunc is set.
	RateLimit      middleware.RateLimitConfig
	RequestTimeout time.Duration
	Checks         map[string]HealthCheck
	Debug          *DebugHandler
	VAPIDPublicKey string

	// Events and IngestToken enable POST /internal/events. Both are needed.
	Events      EventSink
	IngestToken secrets.Secret
}

// Server is the HTTP API server.
type Server struct {
	opts   Options
	router *mux.Router

	mu      sync.Mutex
	server  *http.Server
	addr    string
	stopped bool
}

// New creates a new HTTP server and registers its routes.
func New(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		addr:   net.JoinHostPort(opts.Host, fmt.Sprint(opts.Port)),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/notifications").Subrouter()
	api.Use(s.authMiddleware)
	rl := opts.RateLimit
	if rl.KeyFunc == nil {
		rl.KeyFunc = UserRateKey(httprate.KeyByIP)
	}
	api.Use(middleware.RateLimit(rl))
	api.Use(func(next http.Handler) http.Handler {
		return timeoutMiddleware(opts.RequestTimeout, next)
	})
	api.HandleFunc("/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/unsubscribe", s.handleUnsubscribe).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions", s.handleListSubscriptions).Methods(http.MethodGet)
	api.HandleFunc("/vapid-public-key", s.handleVAPIDPublicKey).Methods(http.MethodGet)

	if opts.Events != nil && !opts.IngestToken.IsZero() {
		internal := s.router.PathPrefix("/internal").Subrouter()
		internal.Use(s.serviceTokenMiddleware)
		internal.HandleFunc("/events", s.handleIngestEvent).Methods(http.MethodPost)
	}

	if opts.WebSocket != nil {
		s.router.PathPrefix("/ws/").Handler(opts.WebSocket)
	}
	if opts.Debug != nil {
		opts.Debug.Register(s.router)
	}

	return s
}

// Handler returns the full middleware chain:
// request -> logging -> cors -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = s.corsMiddleware(handler)
	handler = requestLoggingMiddleware(handler)
	return handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe binds the listener and serves until Stop. It returns nil
// after a clean shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. If Stop already ran, ln is closed and
// Serve returns nil immediately.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.server = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down. Hijacked WebSocket connections are
// not affected; the gateway closes those itself. A Serve call that has not
// started yet will not start.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	log.Info().Msg("HTTP server stopping")
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if len(s.opts.Checks) > 0 {
		resp.Checks = make(map[string]string, len(s.opts.Checks))
		for name, check := range s.opts.Checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	// Degraded still answers 200.
	writeJSON(w, http.StatusOK, resp)
}

// requestLoggingMiddleware logs each request at debug level.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// timeoutMiddleware answers 504 when a handler runs longer than timeout.
func timeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		done := make(chan struct{})
		tw := &timeoutResponseWriter{ResponseWriter: w}

		go func() {
			next.ServeHTTP(tw, r.WithContext(ctx))
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			tw.mu.Lock()
			expired := !tw.written
			if expired {
				tw.written = true
				tw.timedOut = true
			}
			tw.mu.Unlock()
			if expired {
				log.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Dur("timeout", timeout).
					Msg("request timed out")
				writeError(w, http.StatusGatewayTimeout, "Request timed out")
			}
			<-done
		}
	})
}

// timeoutResponseWriter drops writes once the timeout response was sent.
type timeoutResponseWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	written  bool
	timedOut bool
}

func (tw *timeoutResponseWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.written {
		return
	}
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutResponseWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.written = true
	return tw.ResponseWriter.Write(b)
}

// corsMiddleware answers preflights and sets CORS headers for allowed
// origins. Without an origin checker only localhost origins are allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// The gateway applies its own origin policy during the upgrade.
		if origin != "" && !strings.HasPrefix(r.URL.Path, "/ws/") {
			var allowed bool
			if s.opts.OriginChecker != nil {
				allowed = s.opts.OriginChecker.CheckOrigin(r)
			} else {
				allowed = isLocalhostOrigin(origin)
			}
			if !allowed {
				log.Warn().
					Str("origin", origin).
					Str("remote", r.RemoteAddr).
					Msg("CORS request rejected - origin not allowed")
				writeError(w, http.StatusForbidden, "Origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isLocalhostOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, DetailResponse{Detail: detail})
}
