package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/sync"
)

// DefaultBufferSize is the per-subscription channel capacity.
const DefaultBufferSize = 64

// Memory is an in-process pub/sub used for single-instance deployments and
// tests. It never loses a message while a subscription is open: Publish
// blocks until every current subscriber accepted the payload, the
// subscription was closed, or ctx ended.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memSub]struct{}
	closed bool
	done   chan struct{}

	bufferSize int
}

// NewMemory creates an in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		subs:       make(map[string]map[*memSub]struct{}),
		done:       make(chan struct{}),
		bufferSize: DefaultBufferSize,
	}
}

// Publish delivers payload to every current subscriber of topic.
func (b *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return domain.NewBrokerError("publish", topic, domain.ErrBrokerClosed)
	}

	for sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		case <-sub.done:
		case <-ctx.Done():
			return domain.NewBrokerError("publish", topic, ctx.Err())
		}
	}
	return nil
}

// Subscribe opens a new stream for topic.
func (b *Memory) Subscribe(_ context.Context, topic string) (ports.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, domain.NewBrokerError("subscribe", topic, domain.ErrBrokerClosed)
	}

	sub := &memSub{
		b:     b,
		topic: topic,
		ch:    make(chan []byte, b.bufferSize),
		done:  make(chan struct{}),
	}
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*memSub]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// TopicCount returns the number of topics with at least one subscriber.
func (b *Memory) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	for topic, set := range b.subs {
		for sub := range set {
			sub.markClosed()
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

func (b *Memory) release(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.topic]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.topic)
	}
	close(sub.ch)
}

type memSub struct {
	b      *Memory
	topic  string
	ch     chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func (s *memSub) Topic() string {
	return s.topic
}

func (s *memSub) C() <-chan []byte {
	return s.ch
}

// markClosed closes done exactly once and reports whether this call did it.
func (s *memSub) markClosed() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	return true
}

func (s *memSub) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.b.release(s)
	return nil
}

var _ ports.Broker = (*Memory)(nil)
