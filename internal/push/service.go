package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/metrics"
)

// Service defaults.
const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 256
	DefaultConcurrency    = 8
	DefaultCleanupTimeout = 5 * time.Second
)

// DefaultRetryDelays is the linear backoff between attempts after a transient
// failure.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Workers        int
	QueueSize      int
	Concurrency    int
	RetryDelays    []time.Duration
	CleanupTimeout time.Duration
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RetryDelays == nil {
		o.RetryDelays = DefaultRetryDelays
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	return o
}

// Attempt is the outcome of delivering one message to one subscription.
// It is reported and logged, never persisted.
type Attempt struct {
	SubscriptionID int64
	EventKind      string
	Status         Status
	HTTPStatus     int
	Tries          int
	Err            error
}

// DeliveryReport summarizes one Deliver call.
type DeliveryReport struct {
	UserID   int64
	Attempts []Attempt
}

// Count returns how many attempts ended with status.
func (r DeliveryReport) Count(status Status) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

type job struct {
	userID int64
	kind   events.Kind
	msg    events.PushMessage
}

// Service delivers push messages to every stored subscription of a user.
// Expired endpoints are removed in the background.
type Service struct {
	store  ports.SubscriptionStore
	sender Sender
	opts   ServiceOptions
	tracer trace.Tracer

	mu      sync.RWMutex
	queue   chan job
	closed  bool
	started bool

	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	cleanups sync.WaitGroup

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a Service. Call Start to run the queue workers.
func NewService(store ports.SubscriptionStore, sender Sender, opts ServiceOptions) *Service {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:  store,
		sender: sender,
		opts:   opts,
		tracer: otel.Tracer("taskpulse/push"),
		queue:  make(chan job, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		sleep:  sleepCtx,
	}
}

// Start launches the queue workers.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	for i := 0; i < s.opts.Workers; i++ {
		s.workers.Add(1)
		go s.worker()
	}
	log.Info().Int("workers", s.opts.Workers).Int("queue_size", s.opts.QueueSize).Msg("push delivery started")
}

// Enqueue schedules a delivery without blocking. It returns false when the
// queue is full or the service is stopped; the job is dropped.
func (s *Service) Enqueue(userID int64, kind events.Kind, msg events.PushMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- job{userID: userID, kind: kind, msg: msg}:
		return true
	default:
		metrics.PushQueueDrops.Inc()
		log.Warn().Int64("user_id", userID).Str("kind", kind.String()).Msg("push queue full, dropping notification")
		return false
	}
}

// Stop stops accepting jobs and drains the queue. If ctx ends first,
// in-flight deliveries are cancelled. Pending subscription cleanups are
// always waited for.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("push queue not drained: %w", ctx.Err())
		s.cancel()
		<-drained
	}
	s.cancel()
	s.cleanups.Wait()
	log.Info().Msg("push delivery stopped")
	return err
}

func (s *Service) worker() {
	defer s.workers.Done()
	for j := range s.queue {
		if _, err := s.deliver(s.ctx, j.userID, j.kind.String(), j.msg); err != nil {
			log.Warn().Err(err).Int64("user_id", j.userID).Msg("push delivery failed")
		}
	}
}

// Deliver sends msg to every subscription of userID and waits for all of
// them. Per-subscription failures are reported, not returned; the error is
// only set when the subscriptions could not be loaded.
func (s *Service) Deliver(ctx context.Context, userID int64, msg events.PushMessage) (DeliveryReport, error) {
	return s.deliver(ctx, userID, "", msg)
}

func (s *Service) deliver(ctx context.Context, userID int64, kind string, msg events.PushMessage) (DeliveryReport, error) {
	ctx, span := s.tracer.Start(ctx, "push.deliver", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("event_kind", kind),
	))
	defer span.End()

	report := DeliveryReport{UserID: userID}

	payload, err := msg.JSON()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("encode push message: %w", err)
	}

	subs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("list subscriptions: %w", err)
	}
	span.SetAttributes(attribute.Int("subscriptions", len(subs)))
	if len(subs) == 0 {
		return report, nil
	}

	report.Attempts = make([]Attempt, len(subs))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			a := s.send(ctx, sub, payload)
			a.EventKind = kind
			report.Attempts[i] = a
			if a.Status == StatusExpired {
				s.cleanup(sub)
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sent", report.Count(StatusSent)),
		attribute.Int("expired", report.Count(StatusExpired)),
	)
	log.Debug().
		Int64("user_id", userID).
		Int("subscriptions", len(subs)).
		Int("sent", report.Count(StatusSent)).
		Msg("push delivered")
	return report, nil
}

// send makes up to 1+len(RetryDelays) attempts, retrying only transient
// failures.
func (s *Service) send(ctx context.Context, sub ports.PushSubscription, payload []byte) Attempt {
	a := Attempt{SubscriptionID: sub.ID}
	for try := 0; ; try++ {
		code, err := s.sender.Send(ctx, sub, payload)
		a.Tries = try + 1
		a.HTTPStatus = code
		a.Err = err
		a.Status = Classify(code, err)

		if a.Status != StatusTransient || try >= len(s.opts.RetryDelays) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		metrics.PushRetries.Inc()
		if s.sleep(ctx, s.opts.RetryDelays[try]) != nil {
			break
		}
	}

	metrics.RecordPushAttempt(string(a.Status))
	ev := log.Debug()
	if a.Status == StatusTransient || a.Status == StatusPermanent {
		ev = log.Warn()
	}
	ev.Err(a.Err).
		Int64("subscription_id", sub.ID).
		Str("endpoint_host", endpointHost(sub.Endpoint)).
		Str("status", string(a.Status)).
		Int("http_status", a.HTTPStatus).
		Int("tries", a.Tries).
		Msg("push attempt")
	return a
}

// cleanup removes an expired subscription without holding up the batch. A
// row re-subscribed with new keys since the attempt is left alone.
func (s *Service) cleanup(sub ports.PushSubscription) {
	s.cleanups.Add(1)
	go func() {
		defer s.cleanups.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.CleanupTimeout)
		defer cancel()

		removed, err := s.store.RemoveStale(ctx, sub)
		if err != nil {
			log.Warn().Err(err).Int64("subscription_id", sub.ID).Msg("failed to remove expired push subscription")
			return
		}
		if removed {
			metrics.PushCleanupRemovals.Inc()
			log.Info().
				Int64("user_id", sub.UserID).
				Int64("subscription_id", sub.ID).
				Str("endpoint_host", endpointHost(sub.Endpoint)).
				Msg("removed expired push subscription")
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disabled is the PushEnqueuer used when push delivery is switched off.
type Disabled struct{}

// Enqueue drops the job.
func (Disabled) Enqueue(int64, events.Kind, events.PushMessage) bool { return false }

var (
	_ ports.PushEnqueuer = (*Service)(nil)
	_ ports.PushEnqueuer = Disabled{}
)
