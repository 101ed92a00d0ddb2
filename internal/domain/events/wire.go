package events

import (
	"encoding/json"
	"fmt"

	"github.com/brianly1003/taskpulse/internal/domain"
)

// EventType is the wire-format "type" string of a WebSocket frame.
type EventType string

const (
	EventTypeTaskUpdate   EventType = "task_update"
	EventTypeTaskCreated  EventType = "task_created"
	EventTypeTaskDeleted  EventType = "task_deleted"
	EventTypeNotification EventType = "notification"

	// Control frames exchanged with the client; never published.
	EventTypePing EventType = "ping"
	EventTypePong EventType = "pong"
)

// Frame is a JSON text frame: {"type": "...", "data": {...}}.
type Frame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type EventType `json:"type"`
	Data Payload   `json:"data"`
}

// ToJSON encodes the event as the frame written to WebSocket clients. The
// same bytes are what the broker carries.
func (e DomainEvent) ToJSON() ([]byte, error) {
	r, ok := RouteFor(e.kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownKind, e.kind)
	}
	return json.Marshal(outFrame{Type: r.WireType, Data: e.payload})
}

// DecodeFrame parses a client or broker frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// PongFrame is the reply to a client {"type":"ping"}.
var PongFrame = []byte(`{"type":"pong"}`)

// PushMessage is the plaintext JSON handed to Web Push encryption. A missing
// URL means "/"; clients apply that default.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// DefaultPushIcon is attached to task notices.
const DefaultPushIcon = "/favicon.ico"

// JSON encodes the message.
func (m PushMessage) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// PushMessage builds the push notice for the event. It returns false for
// kinds that are not routed to push.
func (e DomainEvent) PushMessage() (PushMessage, bool) {
	r, ok := RouteFor(e.kind)
	if !ok || !r.Has(ChannelPush) {
		return PushMessage{}, false
	}

	switch p := e.payload.(type) {
	case TaskPayload:
		body := fmt.Sprintf("Task #%d was completed", p.ID)
		if p.Title != "" {
			body = fmt.Sprintf("Task '%s' was completed", p.Title)
		}
		return PushMessage{
			Title: "Task completed",
			Body:  body,
			Icon:  DefaultPushIcon,
			Tag:   fmt.Sprintf("task-%d", p.ID),
		}, true
	case NotificationPayload:
		m := PushMessage{
			Title: p.Title,
			Body:  p.Message,
			URL:   p.URL,
			Icon:  DefaultPushIcon,
		}
		if p.RelatedTaskID != 0 {
			m.Tag = fmt.Sprintf("task-%d", p.RelatedTaskID)
		}
		return m, true
	default:
		return PushMessage{}, false
	}
}
