package ports

import (
	"context"

	"github.com/brianly1003/taskpulse/internal/domain/events"
)

// Conn is a live client connection as seen by the connection registry.
type Conn interface {
	// ID returns a unique identifier for this connection.
	ID() string

	// Send queues a frame without blocking.
	// Returns an error if the connection is closed or its outbound buffer is full.
	Send(frame []byte) error

	// Close closes the connection with the given reason. Safe to call more than once.
	Close(reason CloseReason) error
}

// CloseReason explains why the server closed a connection.
type CloseReason uint8

const (
	CloseNormal CloseReason = iota
	CloseSlowConsumer
	CloseServerRestart
	ClosePolicyViolation
)

// String returns the reason name.
func (r CloseReason) String() string {
	switch r {
	case CloseSlowConsumer:
		return "slow_consumer"
	case CloseServerRestart:
		return "server_restart"
	case ClosePolicyViolation:
		return "policy_violation"
	default:
		return "normal"
	}
}

// ConnectionRegistry tracks live connections per (user, stream) key.
type ConnectionRegistry interface {
	// Register adds conn under the key, subscribing to the broker topic if it is
	// the first connection for that key.
	Register(ctx context.Context, userID int64, stream events.Stream, conn Conn) error

	// Unregister removes the connection; the last removal releases the topic.
	Unregister(userID int64, stream events.Stream, connID string)

	// ConnectionCount returns the number of registered connections.
	ConnectionCount() int
}
