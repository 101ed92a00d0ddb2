// Package common provides shared types and utilities for server implementations.
package common

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

// WebSocket timing constants.
// These are tuned for mobile network tolerance.
const (
	// WriteWait is time allowed to write a message to the peer.
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer.
	PongWait = 60 * time.Second

	// PingPeriod is the interval for sending pings. Must be less than PongWait.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum message size allowed from peer.
	// Clients only send small control frames.
	MaxMessageSize = 4 * 1024

	// SendBufferSize is the default outbound queue size per connection.
	SendBufferSize = 256

	// CloseGracePeriod bounds how long a close frame may take to write.
	CloseGracePeriod = time.Second
)

// Handshake rejection reasons sent with a policy-violation close frame.
const (
	ReasonAuthRequired = "Authentication required"
	ReasonInvalidToken = "Invalid token"
	ReasonInactiveUser = "User is inactive"
)

// CloseCode maps a close reason to its WebSocket close code.
func CloseCode(reason ports.CloseReason) int {
	switch reason {
	case ports.CloseSlowConsumer:
		return websocket.CloseTryAgainLater
	case ports.CloseServerRestart:
		return websocket.CloseServiceRestart
	case ports.ClosePolicyViolation:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseNormalClosure
	}
}

// CloseText is the human-readable text sent with a server-initiated close.
func CloseText(reason ports.CloseReason) string {
	switch reason {
	case ports.CloseSlowConsumer:
		return "Too slow"
	case ports.CloseServerRestart:
		return "Server restarting"
	case ports.ClosePolicyViolation:
		return "Policy violation"
	default:
		return ""
	}
}
