// Package app orchestrates all components of taskpulse.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/brianly1003/taskpulse/internal/broker"
	"github.com/brianly1003/taskpulse/internal/config"
	"github.com/brianly1003/taskpulse/internal/dispatch"
	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/hub"
	"github.com/brianly1003/taskpulse/internal/push"
	"github.com/brianly1003/taskpulse/internal/secrets"
	"github.com/brianly1003/taskpulse/internal/security"
	httpserver "github.com/brianly1003/taskpulse/internal/server/http"
	"github.com/brianly1003/taskpulse/internal/server/http/middleware"
	"github.com/brianly1003/taskpulse/internal/server/websocket"
)

// App is the main application struct that orchestrates all components.
type App struct {
	cfg        *config.Config
	version    string
	instanceID string

	secrets secrets.Chain
	sender  push.Sender

	// Core components
	broker     ports.Broker
	registry   *hub.Registry
	store      *push.SQLiteStore
	subs       *push.CachedStore
	push       *push.Service
	dispatcher *dispatch.Dispatcher
	gateway    *websocket.Server
	httpServer *httpserver.Server

	startTime time.Time
	ready     chan struct{}
	addr      string

	// Lifecycle
	mu      sync.RWMutex
	running bool
	stopped bool
}

// Option customizes New.
type Option func(*App)

// WithBroker replaces the broker selected by broker.driver.
func WithBroker(b ports.Broker) Option {
	return func(a *App) { a.broker = b }
}

// WithSecrets replaces the secret chain built from the secrets section.
func WithSecrets(c secrets.Chain) Option {
	return func(a *App) { a.secrets = c }
}

// WithPushSender replaces the Web Push sender. The VAPID keys must still
// resolve for push to be enabled.
func WithPushSender(s push.Sender) Option {
	return func(a *App) { a.sender = s }
}

// New builds every component. Nothing listens until Start.
func New(cfg *config.Config, version string, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		version:    version,
		instanceID: uuid.New().String(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.build(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.secrets == nil {
		chain, err := BuildSecretChain(a.cfg.Secrets)
		if err != nil {
			return err
		}
		a.secrets = chain
	}

	store, err := push.OpenSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open subscription store: %w", err)
	}
	a.store = store
	a.subs = push.NewCachedStore(store, a.cfg.Push.CacheTTL)

	if a.broker == nil {
		b, err := newBroker(a.cfg.Broker)
		if err != nil {
			return err
		}
		a.broker = b
	}
	a.registry = hub.New(a.broker)

	auth, err := a.newAuthenticator(ctx)
	if err != nil {
		return err
	}

	var enqueuer ports.PushEnqueuer = push.Disabled{}
	publicKey, err := a.setupPush(ctx)
	if err != nil {
		return err
	}
	if a.push != nil {
		enqueuer = a.push
	}
	a.dispatcher = dispatch.New(a.broker, enqueuer, a.cfg.Broker.PublishTimeout)

	var origins *security.OriginChecker
	wsOpts := websocket.Options{SendBuffer: a.cfg.Gateway.SendBuffer}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		origins = security.NewOriginChecker(a.cfg.Server.AllowedOrigins)
		wsOpts.CheckOrigin = origins.CheckOrigin
	}
	a.gateway = websocket.NewServer(auth, a.registry, wsOpts)

	httpOpts := httpserver.Options{
		Host:          a.cfg.Server.Host,
		Port:          a.cfg.Server.Port,
		Auth:          auth,
		Store:         a.subs,
		WebSocket:     a.gateway,
		OriginChecker: origins,
		RateLimit: middleware.RateLimitConfig{
			RequestLimit: a.cfg.RateLimit.RequestsPerMinute,
			WindowSize:   time.Minute,
		},
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Checks: map[string]httpserver.HealthCheck{
			"store":  a.store.Ping,
			"broker": a.brokerHealth,
		},
		VAPIDPublicKey: publicKey,
		Events:         a.dispatcher,
	}
	if a.cfg.RateLimit.TrustProxy {
		httpOpts.RateLimit.KeyFunc = httpserver.UserRateKey(middleware.ClientIPKey(true))
	}
	if token, err := a.resolveOptional(ctx, a.cfg.Auth.IngestTokenName); err != nil {
		return err
	} else if !token.IsZero() {
		httpOpts.IngestToken = token
	}
	if a.cfg.Debug.Enabled {
		httpOpts.Debug = httpserver.NewDebugHandler(a.cfg.Debug.PprofEnabled, a.stats)
	}
	a.httpServer = httpserver.New(httpOpts)

	return nil
}

func newBroker(cfg config.BrokerConfig) (ports.Broker, error) {
	switch cfg.Driver {
	case config.BrokerRedis:
		b, err := broker.DialRedis(cfg.RedisURL, broker.RedisOptions{
			Backoff: broker.BackoffConfig{
				Initial: cfg.BackoffInitial,
				Max:     cfg.BackoffMax,
				Jitter:  cfg.BackoffJitter,
			},
			BufferSize: cfg.BufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis broker: %w", err)
		}
		log.Info().Str("driver", cfg.Driver).Msg("broker ready")
		return b, nil
	default:
		log.Info().Str("driver", config.BrokerMemory).Msg("broker ready (single instance)")
		return broker.NewMemory(), nil
	}
}

func (a *App) newAuthenticator(ctx context.Context) (*security.JWTAuthenticator, error) {
	secret, err := a.secrets.Resolve(ctx, a.cfg.Auth.JWTSecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JWT secret: %w", err)
	}

	disabled := make(map[int64]bool, len(a.cfg.Auth.DisabledUsers))
	for _, id := range a.cfg.Auth.DisabledUsers {
		disabled[id] = true
	}
	auth, err := security.NewJWTAuthenticator([]byte(secret.Reveal()), a.cfg.Auth.Algorithms,
		security.NumericSubjects{Disabled: disabled})
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}
	return auth, nil
}

// setupPush creates the delivery service when push is enabled and both VAPID
// keys resolve. Missing keys disable push with a warning; the WebSocket leg
// keeps working.
func (a *App) setupPush(ctx context.Context) (string, error) {
	pc := a.cfg.Push
	if !pc.Enabled {
		log.Info().Msg("push delivery disabled by config")
		return "", nil
	}

	publicKey := pc.VAPIDPublicKey
	if publicKey == "" {
		pub, err := a.resolveOptional(ctx, pc.VAPIDPublicKeyName)
		if err != nil {
			return "", err
		}
		publicKey = pub.Reveal()
	}
	privateKey, err := a.resolveOptional(ctx, pc.VAPIDPrivateKeyName)
	if err != nil {
		return "", err
	}
	if publicKey == "" || privateKey.IsZero() {
		log.Warn().
			Str("public_key_name", pc.VAPIDPublicKeyName).
			Str("private_key_name", pc.VAPIDPrivateKeyName).
			Msg("VAPID keys not configured, push delivery disabled")
		return "", nil
	}

	sender := a.sender
	if sender == nil {
		s, err := push.NewWebPushSender(
			push.VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey},
			push.SenderOptions{
				Subscriber: pc.Subscriber,
				TTL:        pc.TTLSeconds,
				Urgency:    pc.Urgency,
				Timeout:    pc.RequestTimeout,
			},
		)
		if err != nil {
			return "", fmt.Errorf("failed to create push sender: %w", err)
		}
		sender = s
	}

	a.push = push.NewService(a.subs, sender, push.ServiceOptions{
		Workers:     pc.Workers,
		QueueSize:   pc.QueueSize,
		Concurrency: pc.Concurrency,
		RetryDelays: pc.RetryDelays,
	})
	log.Info().Int("workers", pc.Workers).Msg("push delivery enabled")
	return publicKey, nil
}

// resolveOptional resolves name, treating a missing secret as empty.
func (a *App) resolveOptional(ctx context.Context, name string) (secrets.Secret, error) {
	if name == "" {
		return secrets.Secret{}, nil
	}
	s, err := a.secrets.Resolve(ctx, name)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return secrets.Secret{}, nil
	}
	if err != nil {
		return secrets.Secret{}, fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	return s, nil
}

// BuildSecretChain returns the resolution order: environment, Docker secret
// files, encrypted values found in either, then Vault when enabled.
func BuildSecretChain(cfg config.SecretsConfig) (secrets.Chain, error) {
	env := secrets.NewEnvSource()
	files := secrets.NewFileSource(cfg.DockerDir)

	keys := secrets.KeyConfigFromEnv(os.LookupEnv)
	if keys.Salt == "" {
		keys.Salt = cfg.Salt
	}

	chain := secrets.Chain{env, files, secrets.NewEncryptedSource(keys, cfg.EncryptedSuffix, env, files)}

	if cfg.Vault.Enabled {
		vs, err := secrets.NewVaultSource(secrets.VaultConfig{
			Address: cfg.Vault.Address,
			Mount:   cfg.Vault.Mount,
			Path:    cfg.Vault.Path,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, vs)
	}
	return chain, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running || a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	ln, err := net.Listen("tcp", net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		_ = a.shutdown()
		return fmt.Errorf("failed to listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.mu.Unlock()

	if a.push != nil {
		a.push.Start()
	}

	log.Info().
		Str("instance_id", a.instanceID).
		Str("addr", a.addr).
		Bool("push", a.push != nil).
		Msg("taskpulse ready")
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.httpServer.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

// shutdown performs graceful shutdown of all components. Sockets are
// closed with the server-restart code before broker subscriptions go away.
func (a *App) shutdown() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.running = false
	a.mu.Unlock()

	log.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket gateway: %w", err))
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.registry.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("connection registry: %w", err))
	}
	if a.push != nil {
		if err := a.push.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("push service: %w", err))
		}
	}
	errs = append(errs, a.closeResources())

	err := errors.Join(errs...)
	if err != nil {
		log.Error().Err(err).Msg("shutdown finished with errors")
	} else {
		log.Info().Msg("shutdown complete")
	}
	return err
}

// closeResources releases the cache, broker and store. Safe on a partially
// built App.
func (a *App) closeResources() error {
	var errs []error
	if a.subs != nil {
		a.subs.Stop()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) brokerHealth(context.Context) error {
	if r, ok := a.broker.(*broker.Redis); ok && !r.Connected() {
		return domain.ErrBrokerUnavailable
	}
	return nil
}

func (a *App) stats() map[string]interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var subs interface{} = "unavailable"
	if n, err := a.store.Count(ctx); err == nil {
		subs = n
	}

	return map[string]interface{}{
		"push_subscriptions": subs,
		"instance_id":        a.instanceID,
		"version":            a.version,
		"uptime_seconds":     a.UptimeSeconds(),
		"ws_clients":         a.gateway.ClientCount(),
		"connections":        a.registry.ConnectionCount(),
		"topics":             a.registry.TopicCount(),
		"push_enabled":       a.push != nil,
	}
}

// Ready is closed once Start is listening.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the listen address once Ready is closed.
func (a *App) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addr
}

// Dispatcher returns the event entry point for in-process collaborators.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Subscriptions returns the cached subscription store.
func (a *App) Subscriptions() ports.SubscriptionStore {
	return a.subs
}

// PushEnabled reports whether Web Push delivery is configured.
func (a *App) PushEnabled() bool {
	return a.push != nil
}

// GetConfig returns the configuration.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// UptimeSeconds returns how long the app has been running.
func (a *App) UptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}
