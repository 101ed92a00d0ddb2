package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/brianly1003/taskpulse/internal/domain"
)

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("task_update"); ok {
		t.Error("wire types are not kind names")
	}
}

func TestEnvelope_Event(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		kind     Kind
		wantErr  error
	}{
		{
			name:     "task created",
			envelope: `{"kind":"TaskCreated","user_id":7,"payload":{"id":1,"title":"Dishes"}}`,
			kind:     KindTaskCreated,
		},
		{
			name:     "completed update is reclassified",
			envelope: `{"kind":"TaskUpdated","user_id":7,"payload":{"id":42,"completed":true}}`,
			kind:     KindTaskCompleted,
		},
		{
			name:     "task deleted",
			envelope: `{"kind":"TaskDeleted","user_id":7,"payload":{"task_id":42}}`,
			kind:     KindTaskDeleted,
		},
		{
			name:     "notification",
			envelope: `{"kind":"GenericNotification","user_id":9,"payload":{"title":"Reminder","message":"Water plants"}}`,
			kind:     KindGenericNotification,
		},
		{
			name:     "unknown kind",
			envelope: `{"kind":"RoomCreated","user_id":7,"payload":{}}`,
			wantErr:  domain.ErrUnknownKind,
		},
		{
			name:     "missing payload",
			envelope: `{"kind":"TaskCreated","user_id":7}`,
			wantErr:  domain.ErrInvalidEvent,
		},
		{
			name:     "wrong payload shape",
			envelope: `{"kind":"TaskDeleted","user_id":7,"payload":{"task_id":"x"}}`,
			wantErr:  domain.ErrInvalidEvent,
		},
		{
			name:     "missing user",
			envelope: `{"kind":"TaskCreated","payload":{"id":1}}`,
			wantErr:  domain.ErrInvalidEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tt.envelope), &env); err != nil {
				t.Fatalf("unmarshal envelope: %v", err)
			}
			e, err := env.Event()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.Kind() != tt.kind {
				t.Errorf("kind = %s, want %s", e.Kind(), tt.kind)
			}
		})
	}
}

func TestEnvelope_NotificationGetsTimestamp(t *testing.T) {
	env := Envelope{
		Kind:    "GenericNotification",
		UserID:  9,
		Payload: json.RawMessage(`{"title":"Reminder","message":"Water plants"}`),
	}
	e, err := env.Event()
	if err != nil {
		t.Fatal(err)
	}
	n := e.Payload().(NotificationPayload)
	if n.CreatedAt.IsZero() {
		t.Error("created_at should be filled in")
	}
}
