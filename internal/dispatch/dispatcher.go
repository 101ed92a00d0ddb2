// Package dispatch is the single entry point for publishing domain events.
// Callers hand it an event after their transaction commits; it routes the
// event to the WebSocket topic and, for kinds that must reach offline
// devices, to push delivery.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/metrics"
)

// DefaultPublishTimeout bounds how long Publish waits on the broker.
const DefaultPublishTimeout = 2 * time.Second

// Dispatcher routes events according to the table in events.RouteFor.
type Dispatcher struct {
	publisher      ports.Publisher
	push           ports.PushEnqueuer
	publishTimeout time.Duration
	tracer         trace.Tracer
}

// New creates a Dispatcher. push may be nil when push delivery is disabled.
func New(publisher ports.Publisher, push ports.PushEnqueuer, publishTimeout time.Duration) *Dispatcher {
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Dispatcher{
		publisher:      publisher,
		push:           push,
		publishTimeout: publishTimeout,
		tracer:         otel.Tracer("taskpulse/dispatch"),
	}
}

// Publish distributes e. It returns a *domain.DispatchError only when e is
// malformed. Broker and push faults are logged and counted; the caller's
// mutation has already committed and must not fail because of them.
//
// Cancelling ctx does not abort the broker publish.
func (d *Dispatcher) Publish(ctx context.Context, e events.DomainEvent) error {
	kind := e.Kind().String()

	ctx, span := d.tracer.Start(ctx, "dispatch.publish", trace.WithAttributes(
		attribute.String("event_kind", kind),
		attribute.Int64("user_id", e.UserID()),
	))
	defer span.End()

	if err := e.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.NewDispatchError(kind, err)
	}
	route, _ := e.Route()
	topic, _ := e.Topic()

	frame, err := e.ToJSON()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.NewDispatchError(kind, err)
	}

	metrics.RecordDispatch(kind)

	if route.Has(events.ChannelWebSocket) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)
		err := d.publisher.Publish(pctx, topic, frame)
		cancel()
		if err != nil {
			metrics.BrokerPublishFailures.Inc()
			span.RecordError(err)
			log.Error().Err(err).
				Str("topic", topic).
				Str("kind", kind).
				Msg("dropping event, broker publish failed")
		}
	}

	if route.Has(events.ChannelPush) && d.push != nil {
		if msg, ok := e.PushMessage(); ok {
			if !d.push.Enqueue(e.UserID(), e.Kind(), msg) {
				span.AddEvent("push dropped")
			}
		}
	}

	log.Debug().Str("topic", topic).Str("kind", kind).Msg("event dispatched")
	return nil
}
