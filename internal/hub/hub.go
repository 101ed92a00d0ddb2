// Package hub implements the connection registry for taskpulse.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/metrics"
	"github.com/brianly1003/taskpulse/internal/sync"
)

// Subscriber opens broker subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (ports.Subscription, error)
}

type key struct {
	userID int64
	stream events.Stream
}

// group holds every connection of one (user, stream) key together with the
// single broker subscription they share. A group is created with its first
// connection and dies with its last; a dead group is never reused.
type group struct {
	key   key
	topic string

	mu    sync.Mutex
	conns map[string]ports.Conn
	sub   ports.Subscription
	dead  bool
}

// Registry tracks live connections per (user, stream) and fans broker
// messages out to them.
type Registry struct {
	broker Subscriber

	// mu protects groups and closed. Lock order is group.mu then mu.
	mu     sync.Mutex
	groups map[key]*group
	closed bool

	count atomic.Int64
	pumps sync.WaitGroup
}

// New creates a new Registry.
func New(broker Subscriber) *Registry {
	return &Registry{
		broker: broker,
		groups: make(map[key]*group),
	}
}

// Register adds conn under (userID, stream). The first connection for a key
// subscribes to its broker topic before Register returns.
func (r *Registry) Register(ctx context.Context, userID int64, stream events.Stream, conn ports.Conn) error {
	if userID <= 0 {
		return domain.NewValidationError("user_id", "must be positive")
	}
	if _, ok := events.ParseStream(string(stream)); !ok {
		return domain.NewValidationError("stream", fmt.Sprintf("unknown stream %q", stream))
	}

	k := key{userID: userID, stream: stream}
	for {
		g, err := r.group(k)
		if err != nil {
			return err
		}

		g.mu.Lock()
		if g.dead {
			// Lost a race with the last Unregister; retry on a fresh group.
			g.mu.Unlock()
			continue
		}

		if g.sub == nil {
			sub, err := r.broker.Subscribe(ctx, g.topic)
			if err != nil {
				g.dead = true
				r.removeGroup(g)
				g.mu.Unlock()
				return fmt.Errorf("subscribe %s: %w", g.topic, err)
			}
			g.sub = sub
			metrics.TopicSubscriptions.Inc()

			r.pumps.Add(1)
			go r.pump(g, sub)

			log.Debug().Str("topic", g.topic).Msg("topic subscribed")
		}

		g.conns[conn.ID()] = conn
		g.mu.Unlock()

		r.count.Add(1)
		metrics.RecordConnection(string(stream), 1)
		log.Debug().
			Int64("user_id", userID).
			Str("stream", string(stream)).
			Str("conn_id", conn.ID()).
			Msg("connection registered")
		return nil
	}
}

// Unregister removes the connection. Removing the last connection of a key
// releases its broker subscription. Unknown ids are ignored.
func (r *Registry) Unregister(userID int64, stream events.Stream, connID string) {
	r.mu.Lock()
	g := r.groups[key{userID: userID, stream: stream}]
	r.mu.Unlock()
	if g == nil {
		return
	}

	g.mu.Lock()
	if _, ok := g.conns[connID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, connID)
	if len(g.conns) == 0 {
		r.retire(g)
	}
	g.mu.Unlock()

	r.count.Add(-1)
	metrics.RecordConnection(string(stream), -1)
	log.Debug().
		Int64("user_id", userID).
		Str("stream", string(stream)).
		Str("conn_id", connID).
		Msg("connection unregistered")
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	return int(r.count.Load())
}

// TopicCount returns the number of keys with a live broker subscription.
func (r *Registry) TopicCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// Connections returns the number of connections registered under a key.
func (r *Registry) Connections(userID int64, stream events.Stream) int {
	r.mu.Lock()
	g := r.groups[key{userID: userID, stream: stream}]
	r.mu.Unlock()
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Stop closes every connection with ports.CloseServerRestart, releases all
// broker subscriptions and waits for the fan-out goroutines to exit.
// Register fails with domain.ErrRegistryClosed afterwards.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.Unlock()

	var closed int
	for _, g := range groups {
		g.mu.Lock()
		for id, conn := range g.conns {
			_ = conn.Close(ports.CloseServerRestart)
			delete(g.conns, id)
			r.count.Add(-1)
			metrics.RecordConnection(string(g.key.stream), -1)
			closed++
		}
		if !g.dead {
			r.retire(g)
		}
		g.mu.Unlock()
	}

	r.pumps.Wait()
	log.Info().Int("connections", closed).Msg("connection registry stopped")
	return nil
}

// group returns the live group for k, creating it if needed.
func (r *Registry) group(k key) (*group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, domain.ErrRegistryClosed
	}
	g, ok := r.groups[k]
	if !ok {
		g = &group{
			key:   k,
			topic: events.Topic(k.userID, k.stream),
			conns: make(map[string]ports.Conn),
		}
		r.groups[k] = g
	}
	return g, nil
}

// removeGroup drops g from the index. Caller holds g.mu.
func (r *Registry) removeGroup(g *group) {
	r.mu.Lock()
	if r.groups[g.key] == g {
		delete(r.groups, g.key)
	}
	r.mu.Unlock()
}

// retire marks an empty group dead and releases its subscription. Caller
// holds g.mu.
func (r *Registry) retire(g *group) {
	g.dead = true
	r.removeGroup(g)
	if g.sub != nil {
		if err := g.sub.Close(); err != nil {
			log.Warn().Err(err).Str("topic", g.topic).Msg("failed to close topic subscription")
		}
		g.sub = nil
		metrics.TopicSubscriptions.Dec()
		log.Debug().Str("topic", g.topic).Msg("topic released")
	}
}

// pump forwards every broker payload of a group's topic to its connections
// until the subscription closes.
func (r *Registry) pump(g *group, sub ports.Subscription) {
	defer r.pumps.Done()
	for frame := range sub.C() {
		r.fanout(g, frame)
	}
}

// fanout queues frame on every connection without blocking. A connection
// that cannot take the frame is dropped and closed as a slow consumer; the
// others are unaffected.
func (r *Registry) fanout(g *group, frame []byte) {
	g.mu.Lock()
	if g.dead {
		g.mu.Unlock()
		return
	}

	var dropped []ports.Conn
	delivered := 0
	for id, conn := range g.conns {
		if err := conn.Send(frame); err != nil {
			if errors.Is(err, domain.ErrBufferFull) {
				dropped = append(dropped, conn)
			}
			delete(g.conns, id)
			r.count.Add(-1)
			metrics.RecordConnection(string(g.key.stream), -1)
			continue
		}
		delivered++
	}
	if len(g.conns) == 0 {
		r.retire(g)
	}
	g.mu.Unlock()

	metrics.RecordFanout(string(g.key.stream), delivered)

	for _, conn := range dropped {
		metrics.RecordSlowConsumer(string(g.key.stream))
		log.Warn().
			Int64("user_id", g.key.userID).
			Str("stream", string(g.key.stream)).
			Str("conn_id", conn.ID()).
			Msg("dropping slow consumer")
		_ = conn.Close(ports.CloseSlowConsumer)
	}
}

var _ ports.ConnectionRegistry = (*Registry)(nil)
