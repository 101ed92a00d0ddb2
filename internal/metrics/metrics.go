// Package metrics provides Prometheus metrics for the delivery pipeline.
// Labels are bounded: no user ids, endpoints or connection ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway / registry

	// ActiveConnections tracks live WebSocket connections by stream.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskpulse_ws_connections",
		Help: "Current number of registered WebSocket connections, by stream.",
	}, []string{"stream"})

	// TopicSubscriptions tracks reference-counted broker subscriptions held by the registry.
	TopicSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskpulse_registry_topic_subscriptions",
		Help: "Current number of broker topics subscribed by the connection registry.",
	})

	// FramesFannedOut counts frames queued to connections.
	FramesFannedOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpulse_ws_frames_total",
		Help: "Total number of frames queued to WebSocket connections, by stream.",
	}, []string{"stream"})

	// SlowConsumerDrops counts connections closed because their buffer was full.
	SlowConsumerDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpulse_ws_slow_consumer_drops_total",
		Help: "Total number of connections dropped as slow consumers, by stream.",
	}, []string{"stream"})

	// HandshakeRejects counts refused WebSocket handshakes by reason.
	HandshakeRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpulse_ws_handshake_rejects_total",
		Help: "Total number of rejected WebSocket handshakes, by reason.",
	}, []string{"reason"})

	// Broker

	// BrokerPublishFailures counts publishes that did not reach the broker.
	BrokerPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpulse_broker_publish_failures_total",
		Help: "Total number of broker publishes that failed and were dropped.",
	})

	// BrokerReconnects counts transport reconnections.
	BrokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpulse_broker_reconnects_total",
		Help: "Total number of broker reconnect attempts.",
	})

	// BrokerConnected is 1 while the subscriber connection is healthy.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskpulse_broker_connected",
		Help: "Whether the broker subscriber connection is up (1) or down (0).",
	})

	// Dispatcher

	// EventsDispatched counts events accepted by the dispatcher by kind.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpulse_events_dispatched_total",
		Help: "Total number of domain events dispatched, by kind.",
	}, []string{"kind"})

	// Push

	// PushAttempts counts per-subscription delivery outcomes.
	PushAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpulse_push_deliveries_total",
		Help: "Total number of push deliveries, by final status.",
	}, []string{"status"})

	// PushRetries counts transient-failure retries.
	PushRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpulse_push_retries_total",
		Help: "Total number of push delivery retries after transient failures.",
	})

	// PushQueueDrops counts push jobs dropped because the queue was full.
	PushQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpulse_push_queue_drops_total",
		Help: "Total number of push jobs dropped because the delivery queue was full.",
	})

	// PushCleanupRemovals counts subscriptions removed after 404/410.
	PushCleanupRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpulse_push_cleanup_removals_total",
		Help: "Total number of push subscriptions removed because the endpoint expired.",
	})
)

// RecordConnection adjusts the connection gauge for a stream.
func RecordConnection(stream string, delta float64) {
	ActiveConnections.WithLabelValues(stream).Add(delta)
}

// RecordFanout counts queued frames for a stream.
func RecordFanout(stream string, n int) {
	FramesFannedOut.WithLabelValues(stream).Add(float64(n))
}

// RecordSlowConsumer counts a slow-consumer drop.
func RecordSlowConsumer(stream string) {
	SlowConsumerDrops.WithLabelValues(stream).Inc()
}

// RecordHandshakeReject counts a refused handshake.
func RecordHandshakeReject(reason string) {
	HandshakeRejects.WithLabelValues(reason).Inc()
}

// RecordDispatch counts a dispatched event.
func RecordDispatch(kind string) {
	EventsDispatched.WithLabelValues(kind).Inc()
}

// RecordPushAttempt counts a final push outcome.
func RecordPushAttempt(status string) {
	PushAttempts.WithLabelValues(status).Inc()
}
