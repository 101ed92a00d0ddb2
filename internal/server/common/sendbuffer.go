package common

import (
	"sync"

	"github.com/brianly1003/taskpulse/internal/domain"
)

// SendBuffer is the single outbound queue of a connection. Any goroutine may
// Send; only the connection's writer reads Channel, so socket writes are
// serialized.
type SendBuffer struct {
	ch   chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewSendBuffer creates a new send buffer with the specified capacity.
func NewSendBuffer(capacity int) *SendBuffer {
	if capacity <= 0 {
		capacity = SendBufferSize
	}
	return &SendBuffer{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Send queues data without blocking. Returns domain.ErrBufferFull if the
// buffer is full, or domain.ErrConnectionClosed once closed.
func (b *SendBuffer) Send(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.ErrConnectionClosed
	}

	select {
	case b.ch <- data:
		return nil
	default:
		return domain.ErrBufferFull
	}
}

// Channel returns the underlying channel for reading.
func (b *SendBuffer) Channel() <-chan []byte {
	return b.ch
}

// Len returns the number of queued frames.
func (b *SendBuffer) Len() int {
	return len(b.ch)
}

// Close stops accepting frames. Queued frames are discarded by the writer.
func (b *SendBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Done returns a channel that's closed when the buffer is closed.
func (b *SendBuffer) Done() <-chan struct{} {
	return b.done
}

// IsClosed returns true if the buffer is closed.
func (b *SendBuffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
