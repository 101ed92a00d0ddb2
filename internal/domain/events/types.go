// Package events defines the domain events distributed by taskpulse.
package events

import (
	"fmt"
	"strconv"
	"time"

	"github.com/brianly1003/taskpulse/internal/domain"
)

// Kind identifies what happened. The set is closed: every Kind must have an
// entry in the route table (see route.go).
type Kind uint8

const (
	KindTaskCreated Kind = iota + 1
	KindTaskUpdated
	KindTaskCompleted
	KindTaskDeleted
	KindGenericNotification
)

// AllKinds lists every defined Kind in declaration order.
var AllKinds = []Kind{
	KindTaskCreated,
	KindTaskUpdated,
	KindTaskCompleted,
	KindTaskDeleted,
	KindGenericNotification,
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTaskCreated:
		return "TaskCreated"
	case KindTaskUpdated:
		return "TaskUpdated"
	case KindTaskCompleted:
		return "TaskCompleted"
	case KindTaskDeleted:
		return "TaskDeleted"
	case KindGenericNotification:
		return "GenericNotification"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindTaskCreated && k <= KindGenericNotification
}

// Stream is one of the two logical per-user event streams.
type Stream string

const (
	StreamTasks         Stream = "tasks"
	StreamNotifications Stream = "notifications"
)

// Streams lists all streams.
var Streams = []Stream{StreamTasks, StreamNotifications}

// ParseStream converts a path segment into a Stream.
func ParseStream(s string) (Stream, bool) {
	switch Stream(s) {
	case StreamTasks:
		return StreamTasks, true
	case StreamNotifications:
		return StreamNotifications, true
	default:
		return "", false
	}
}

// Topic returns the broker channel for a user's stream: user:{id}:{stream}.
// The format is shared by every instance attached to the same broker.
func Topic(userID int64, stream Stream) string {
	return fmt.Sprintf("user:%d:%s", userID, stream)
}

// Payload is the kind-specific data of a DomainEvent.
type Payload interface {
	isPayload()
}

// TaskPayload describes a task in task_created/task_update frames.
type TaskPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title,omitempty"`
	Completed bool   `json:"completed"`
	RoomID    int64  `json:"room_id,omitempty"`
}

// TaskDeletedPayload is the data of task_deleted frames.
type TaskDeletedPayload struct {
	TaskID int64 `json:"task_id"`
}

// NotificationPayload is the data of notification frames.
type NotificationPayload struct {
	ID            int64     `json:"id,omitempty"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Type          string    `json:"type,omitempty"` // task_due, reminder, system, ...
	IsRead        bool      `json:"is_read"`
	RelatedTaskID int64     `json:"related_task_id,omitempty"`
	URL           string    `json:"url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (TaskPayload) isPayload()         {}
func (TaskDeletedPayload) isPayload()  {}
func (NotificationPayload) isPayload() {}

// DomainEvent is an immutable description of a business-level change. All
// fields are unexported and payloads are plain values, so a DomainEvent can be
// handed across goroutines by value without sharing mutable state.
type DomainEvent struct {
	kind      Kind
	userID    int64
	payload   Payload
	createdAt time.Time
}

// New creates a DomainEvent after checking that the payload matches the kind.
func New(kind Kind, userID int64, payload Payload) (DomainEvent, error) {
	e := DomainEvent{
		kind:      kind,
		userID:    userID,
		payload:   payload,
		createdAt: time.Now().UTC(),
	}
	if err := e.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}

// TaskCreated creates a task_created event.
func TaskCreated(userID int64, task TaskPayload) DomainEvent {
	return newEvent(KindTaskCreated, userID, task)
}

// TaskUpdated creates an event for a changed task. An update that leaves the
// task completed is classified as KindTaskCompleted so that it also reaches
// offline devices.
func TaskUpdated(userID int64, task TaskPayload) DomainEvent {
	if task.Completed {
		return newEvent(KindTaskCompleted, userID, task)
	}
	return newEvent(KindTaskUpdated, userID, task)
}

// TaskCompleted creates a completion event.
func TaskCompleted(userID int64, task TaskPayload) DomainEvent {
	task.Completed = true
	return newEvent(KindTaskCompleted, userID, task)
}

// TaskDeleted creates a task_deleted event.
func TaskDeleted(userID, taskID int64) DomainEvent {
	return newEvent(KindTaskDeleted, userID, TaskDeletedPayload{TaskID: taskID})
}

// Notification creates a generic notification event. A zero CreatedAt is
// filled with the current time.
func Notification(userID int64, n NotificationPayload) DomainEvent {
	e := newEvent(KindGenericNotification, userID, n)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.createdAt
		e.payload = n
	}
	return e
}

func newEvent(kind Kind, userID int64, payload Payload) DomainEvent {
	return DomainEvent{
		kind:      kind,
		userID:    userID,
		payload:   payload,
		createdAt: time.Now().UTC(),
	}
}

// Kind returns the event kind.
func (e DomainEvent) Kind() Kind {
	return e.kind
}

// UserID returns the owner whose connections and devices receive the event.
func (e DomainEvent) UserID() int64 {
	return e.userID
}

// Payload returns the kind-specific payload.
func (e DomainEvent) Payload() Payload {
	return e.payload
}

// CreatedAt is for client-side display ordering only.
func (e DomainEvent) CreatedAt() time.Time {
	return e.createdAt
}

// Validate checks the event is routable.
func (e DomainEvent) Validate() error {
	if !e.kind.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownKind, e.kind)
	}
	if e.userID <= 0 {
		return fmt.Errorf("%w: user id must be positive", domain.ErrInvalidEvent)
	}

	ok := false
	switch e.kind {
	case KindTaskCreated, KindTaskUpdated, KindTaskCompleted:
		_, ok = e.payload.(TaskPayload)
	case KindTaskDeleted:
		_, ok = e.payload.(TaskDeletedPayload)
	case KindGenericNotification:
		_, ok = e.payload.(NotificationPayload)
	}
	if !ok {
		return fmt.Errorf("%w: payload %T does not match kind %s", domain.ErrInvalidEvent, e.payload, e.kind)
	}
	return nil
}
