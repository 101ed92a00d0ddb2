package events

import (
	"encoding/json"
	"fmt"

	"github.com/brianly1003/taskpulse/internal/domain"
)

// Envelope is the JSON form in which out-of-process collaborators hand an
// event to the dispatcher.
type Envelope struct {
	Kind    string          `json:"kind"`
	UserID  int64           `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// ParseKind maps a kind name ("TaskCreated", ...) back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Event decodes the envelope into a validated DomainEvent. TaskUpdated
// envelopes go through TaskUpdated, so a completed task is reclassified.
func (env Envelope) Event() (DomainEvent, error) {
	kind, ok := ParseKind(env.Kind)
	if !ok {
		return DomainEvent{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, env.Kind)
	}

	var e DomainEvent
	switch kind {
	case KindTaskCreated, KindTaskUpdated, KindTaskCompleted:
		var p TaskPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return DomainEvent{}, err
		}
		switch kind {
		case KindTaskCreated:
			e = TaskCreated(env.UserID, p)
		case KindTaskUpdated:
			e = TaskUpdated(env.UserID, p)
		default:
			e = TaskCompleted(env.UserID, p)
		}
	case KindTaskDeleted:
		var p TaskDeletedPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return DomainEvent{}, err
		}
		e = TaskDeleted(env.UserID, p.TaskID)
	case KindGenericNotification:
		var p NotificationPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return DomainEvent{}, err
		}
		e = Notification(env.UserID, p)
	}

	if err := e.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", domain.ErrInvalidEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %v", domain.ErrInvalidEvent, err)
	}
	return nil
}
