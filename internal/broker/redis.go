package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/metrics"
	"github.com/brianly1003/taskpulse/internal/sync"
)

const (
	// DefaultHealthCheckInterval is how long the receive loop waits for a
	// message before pinging the server.
	DefaultHealthCheckInterval = 15 * time.Second

	commandTimeout = 5 * time.Second
)

// RedisOptions configures the Redis adapter.
type RedisOptions struct {
	Backoff             BackoffConfig
	BufferSize          int
	HealthCheckInterval time.Duration
}

// Redis is a ports.Broker on top of Redis pub/sub.
//
// All local subscriptions share one PubSub connection. When that connection
// fails the adapter reconnects with backoff and re-subscribes every topic
// that still has a local subscriber. Messages published during the outage
// are lost; Redis pub/sub has no replay.
type Redis struct {
	client     *redis.Client
	ownsClient bool
	opts       RedisOptions

	// cmdMu serializes SUBSCRIBE/UNSUBSCRIBE with map changes so the server
	// side never disagrees with topics.
	cmdMu sync.Mutex

	mu     sync.RWMutex
	topics map[string]map[*redisSub]struct{}
	ps     *redis.PubSub
	closed bool

	connected atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// DialRedis parses a redis:// URL and starts an adapter that owns the client.
// An unreachable server is not an error: the adapter keeps retrying in the
// background and publishes fail until it is back.
func DialRedis(url string, opts RedisOptions) (*Redis, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b := NewRedis(redis.NewClient(ropts), opts)
	b.ownsClient = true
	return b, nil
}

// NewRedis starts an adapter over an existing client. The caller keeps
// ownership of client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}
	opts.Backoff = opts.Backoff.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	b := &Redis{
		client:   client,
		opts:     opts,
		topics:   make(map[string]map[*redisSub]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	go b.run()
	return b
}

// Connected reports whether the subscriber connection is currently up.
func (b *Redis) Connected() bool {
	return b.connected.Load()
}

// Publish sends payload to topic on the server.
func (b *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return domain.NewBrokerError("publish", topic, domain.ErrBrokerClosed)
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return domain.NewBrokerError("publish", topic, err)
	}
	return nil
}

// Subscribe opens a stream for topic. During an outage the topic is recorded
// and subscribed on reconnect, so this only fails once the broker is closed.
func (b *Redis) Subscribe(ctx context.Context, topic string) (ports.Subscription, error) {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.NewBrokerError("subscribe", topic, domain.ErrBrokerClosed)
	}
	sub := &redisSub{
		b:     b,
		topic: topic,
		ch:    make(chan []byte, b.opts.BufferSize),
		done:  make(chan struct{}),
	}
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*redisSub]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	ps := b.ps
	b.mu.Unlock()

	if !ok && ps != nil && b.connected.Load() {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if err := ps.Subscribe(cctx, topic); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("redis subscribe failed, will retry on reconnect")
		}
	}
	return sub, nil
}

// TopicCount returns the number of topics with at least one local subscriber.
func (b *Redis) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// Close stops the receive loop and closes every subscription.
func (b *Redis) Close() error {
	// Cancel first: dispatch may hold mu while waiting on a full channel.
	b.cancel()

	b.cmdMu.Lock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.cmdMu.Unlock()
		return nil
	}
	b.closed = true

	for topic, set := range b.topics {
		for sub := range set {
			sub.markClosed()
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
	ps := b.ps
	b.ps = nil
	b.mu.Unlock()
	b.cmdMu.Unlock()

	if ps != nil {
		_ = ps.Close()
	}
	<-b.finished

	b.connected.Store(false)
	metrics.BrokerConnected.Set(0)

	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

func (b *Redis) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Redis) run() {
	defer close(b.finished)

	bo := b.opts.Backoff.newBackOff()
	for {
		ps, err := b.connect()
		if err == nil {
			bo.Reset()
			metrics.BrokerConnected.Set(1)
			log.Info().Msg("redis subscriber connected")

			b.receive(ps)

			b.connected.Store(false)
			metrics.BrokerConnected.Set(0)
			b.drop(ps)
		}
		if b.ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		metrics.BrokerReconnects.Inc()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("redis subscriber disconnected")

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-b.ctx.Done():
			t.Stop()
			return
		}
	}
}

// connect opens a fresh PubSub subscribed to every active topic and swaps it
// in.
func (b *Redis) connect() (*redis.PubSub, error) {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, domain.ErrBrokerClosed
	}
	topics := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		topics = append(topics, topic)
	}
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	ps := b.client.Subscribe(b.ctx)
	var err error
	if len(topics) > 0 {
		err = ps.Subscribe(ctx, topics...)
	} else {
		err = ps.Ping(ctx)
	}
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	b.mu.Lock()
	old := b.ps
	b.ps = ps
	b.mu.Unlock()
	b.connected.Store(true)

	if old != nil {
		_ = old.Close()
	}
	return ps, nil
}

// drop forgets a failed PubSub so nothing issues commands on it while the
// loop waits to reconnect.
func (b *Redis) drop(ps *redis.PubSub) {
	b.mu.Lock()
	if b.ps == ps {
		b.ps = nil
	}
	b.mu.Unlock()
	_ = ps.Close()
}

func (b *Redis) receive(ps *redis.PubSub) {
	for {
		msg, err := ps.ReceiveTimeout(b.ctx, b.opts.HealthCheckInterval)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			if isTimeout(err) {
				ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
				perr := ps.Ping(ctx)
				cancel()
				if perr == nil {
					continue
				}
				err = perr
			}
			log.Warn().Err(err).Msg("redis receive failed")
			return
		}

		switch m := msg.(type) {
		case *redis.Message:
			b.dispatch(m.Channel, []byte(m.Payload))
		case *redis.Subscription, *redis.Pong:
		}
	}
}

// dispatch hands payload to each local subscriber of topic, waiting for
// buffer space so a momentarily busy reader loses nothing.
func (b *Redis) dispatch(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		case <-sub.done:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Redis) release(sub *redisSub) {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	b.mu.Lock()
	set, ok := b.topics[sub.topic]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := set[sub]; !ok {
		b.mu.Unlock()
		return
	}
	delete(set, sub)
	last := len(set) == 0
	if last {
		delete(b.topics, sub.topic)
	}
	close(sub.ch)
	ps := b.ps
	b.mu.Unlock()

	if last && ps != nil && b.connected.Load() {
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()
		if err := ps.Unsubscribe(ctx, sub.topic); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Debug().Err(err).Str("topic", sub.topic).Msg("redis unsubscribe failed")
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type redisSub struct {
	b      *Redis
	topic  string
	ch     chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func (s *redisSub) Topic() string {
	return s.topic
}

func (s *redisSub) C() <-chan []byte {
	return s.ch
}

func (s *redisSub) markClosed() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	return true
}

func (s *redisSub) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.b.release(s)
	return nil
}

var _ ports.Broker = (*Redis)(nil)
