// Package ports defines the interfaces between the delivery core and its
// transports and collaborators.
package ports

import (
	"context"
)

// Publisher publishes payloads to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription is a cancellable stream of payloads for one topic. It does not
// replay history; calling Subscribe again starts a new stream.
type Subscription interface {
	// Topic returns the subscribed topic.
	Topic() string

	// C delivers payloads in publish order. It is closed after Close or when
	// the broker shuts down.
	C() <-chan []byte

	// Close cancels the subscription. Safe to call more than once.
	Close() error
}

// Broker wraps a pub/sub system.
type Broker interface {
	Publisher

	// Subscribe opens a new stream for topic.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Close releases every subscription and the transport.
	Close() error
}
