// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrInvalidEvent         = errors.New("invalid event")
	ErrUnknownKind          = errors.New("unknown event kind")
	ErrBrokerClosed         = errors.New("broker is closed")
	ErrSubscriptionClosed   = errors.New("subscription is closed")
	ErrConnectionClosed     = errors.New("connection is closed")
	ErrBufferFull           = errors.New("send buffer full")
	ErrRegistryClosed       = errors.New("connection registry is closed")
	ErrInvalidToken         = errors.New("invalid token")
	ErrMissingToken         = errors.New("missing token")
	ErrInactiveUser         = errors.New("user is inactive")
	ErrSecretNotFound       = errors.New("secret not found")
	ErrSubscriptionNotFound = errors.New("push subscription not found")
	ErrInvalidSubscription  = errors.New("invalid push subscription")
	ErrBrokerUnavailable    = errors.New("broker is unavailable")
)

// DispatchError is returned by the event dispatcher when an event cannot be
// routed at all. Delivery faults never produce a DispatchError.
type DispatchError struct {
	Kind string // Event kind as given by the caller
	Err  error  // Underlying error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError creates a new DispatchError.
func NewDispatchError(kind string, err error) *DispatchError {
	return &DispatchError{
		Kind: kind,
		Err:  err,
	}
}

// BrokerError represents an error from the pub/sub transport.
type BrokerError struct {
	Op    string // Operation that failed (publish, subscribe, unsubscribe)
	Topic string
	Err   error
}

func (e *BrokerError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("broker %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(op, topic string, err error) *BrokerError {
	return &BrokerError{
		Op:    op,
		Topic: topic,
		Err:   err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
