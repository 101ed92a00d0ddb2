// Package testutil provides shared test utilities and mocks for taskpulse tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

// MockConn implements ports.Conn for testing.
type MockConn struct {
	id       string
	frames   [][]byte
	mu       sync.Mutex
	closed   bool
	reason   ports.CloseReason
	limit    int
	sendErr  error
	sendFunc func([]byte) error
	done     chan struct{}
}

// NewMockConn creates a new mock connection with an unbounded buffer.
func NewMockConn(id string) *MockConn {
	return &MockConn{
		id:   id,
		done: make(chan struct{}),
	}
}

// NewBoundedMockConn creates a mock connection whose Send fails with
// domain.ErrBufferFull once limit frames are held.
func NewBoundedMockConn(id string, limit int) *MockConn {
	c := NewMockConn(id)
	c.limit = limit
	return c
}

// ID returns the connection ID.
func (m *MockConn) ID() string {
	return m.id
}

// Send records the frame and returns any configured error.
func (m *MockConn) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.ErrConnectionClosed
	}
	if m.sendFunc != nil {
		return m.sendFunc(frame)
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.limit > 0 && len(m.frames) >= m.limit {
		return domain.ErrBufferFull
	}

	m.frames = append(m.frames, frame)
	return nil
}

// Close marks the connection closed and records the reason.
func (m *MockConn) Close(reason ports.CloseReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.reason = reason
		close(m.done)
	}
	return nil
}

// Done returns a channel that's closed when the connection is closed.
func (m *MockConn) Done() <-chan struct{} {
	return m.done
}

// Frames returns all received frames.
func (m *MockConn) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.frames))
	copy(result, m.frames)
	return result
}

// FrameCount returns the number of received frames.
func (m *MockConn) FrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// IsClosed returns whether the connection was closed.
func (m *MockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseReason returns the reason given to Close.
func (m *MockConn) CloseReason() ports.CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// SetSendError configures an error to return on Send.
func (m *MockConn) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetSendFunc sets a custom function for Send behavior.
func (m *MockConn) SetSendFunc(fn func([]byte) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
}

// Ensure MockConn implements ports.Conn.
var _ ports.Conn = (*MockConn)(nil)

// Publication is one recorded Publish call.
type Publication struct {
	Topic   string
	Payload []byte
}

// MockPublisher implements ports.Publisher for testing.
type MockPublisher struct {
	mu   sync.Mutex
	pubs []Publication
	err  error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the publication, or returns the configured error.
func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.pubs = append(m.pubs, Publication{Topic: topic, Payload: payload})
	return nil
}

// SetError makes every following Publish fail with err.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Publications returns all recorded publications.
func (m *MockPublisher) Publications() []Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Publication, len(m.pubs))
	copy(result, m.pubs)
	return result
}

// Ensure MockPublisher implements ports.Publisher.
var _ ports.Publisher = (*MockPublisher)(nil)

// Eventually polls cond until it is true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// AssertEqual is a simple equality assertion helper.
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertNoError asserts that an error is nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}
