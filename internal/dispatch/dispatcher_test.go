package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/taskpulse/internal/broker"
	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/hub"
	"github.com/brianly1003/taskpulse/internal/testutil"
)

type pushJob struct {
	userID int64
	kind   events.Kind
	msg    events.PushMessage
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []pushJob
	full bool
}

func (r *recordingEnqueuer) Enqueue(userID int64, kind events.Kind, msg events.PushMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.jobs = append(r.jobs, pushJob{userID: userID, kind: kind, msg: msg})
	return true
}

func (r *recordingEnqueuer) Jobs() []pushJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pushJob(nil), r.jobs...)
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	tests := []struct {
		name  string
		event events.DomainEvent
		topic string
		frame string
		push  bool
	}{
		{
			name:  "task created",
			event: events.TaskCreated(7, events.TaskPayload{ID: 1, Title: "Dishes"}),
			topic: "user:7:tasks",
			frame: `{"type":"task_created","data":{"id":1,"title":"Dishes","completed":false}}`,
		},
		{
			name:  "task updated",
			event: events.TaskUpdated(7, events.TaskPayload{ID: 1}),
			topic: "user:7:tasks",
			frame: `{"type":"task_update","data":{"id":1,"completed":false}}`,
		},
		{
			name:  "task completed",
			event: events.TaskUpdated(7, events.TaskPayload{ID: 42, Completed: true}),
			topic: "user:7:tasks",
			frame: `{"type":"task_update","data":{"id":42,"completed":true}}`,
			push:  true,
		},
		{
			name:  "task deleted",
			event: events.TaskDeleted(7, 42),
			topic: "user:7:tasks",
			frame: `{"type":"task_deleted","data":{"task_id":42}}`,
		},
		{
			name: "notification",
			event: events.Notification(9, events.NotificationPayload{
				ID: 3, Title: "Reminder", Message: "Water plants",
				CreatedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
			}),
			topic: "user:9:notifications",
			frame: `{"type":"notification","data":{"id":3,"title":"Reminder","message":"Water plants","is_read":false,"created_at":"2026-05-01T08:00:00Z"}}`,
			push:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := testutil.NewMockPublisher()
			pq := &recordingEnqueuer{}
			d := New(pub, pq, 0)

			require.NoError(t, d.Publish(context.Background(), tt.event))

			pubs := pub.Publications()
			require.Len(t, pubs, 1)
			assert.Equal(t, tt.topic, pubs[0].Topic)
			assert.JSONEq(t, tt.frame, string(pubs[0].Payload))

			jobs := pq.Jobs()
			if !tt.push {
				assert.Empty(t, jobs)
				return
			}
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.event.UserID(), jobs[0].userID)
			assert.Equal(t, tt.event.Kind(), jobs[0].kind)
		})
	}
}

func TestDispatcher_RejectsInvalidEvent(t *testing.T) {
	pub := testutil.NewMockPublisher()
	d := New(pub, nil, 0)

	err := d.Publish(context.Background(), events.TaskCreated(0, events.TaskPayload{ID: 1}))
	require.Error(t, err)

	var de *domain.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "TaskCreated", de.Kind)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	err = d.Publish(context.Background(), events.DomainEvent{})
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	assert.Empty(t, pub.Publications())
}

func TestDispatcher_BrokerFailureIsNotReturned(t *testing.T) {
	pub := testutil.NewMockPublisher()
	pub.SetError(domain.NewBrokerError("publish", "user:7:tasks", errors.New("connection refused")))
	pq := &recordingEnqueuer{}
	d := New(pub, pq, 0)

	err := d.Publish(context.Background(), events.TaskCompleted(7, events.TaskPayload{ID: 42}))
	require.NoError(t, err)
	assert.Len(t, pq.Jobs(), 1, "push leg is independent of the broker")
}

func TestDispatcher_PushDropIsNotReturned(t *testing.T) {
	pq := &recordingEnqueuer{full: true}
	d := New(testutil.NewMockPublisher(), pq, 0)

	require.NoError(t, d.Publish(context.Background(), events.TaskCompleted(7, events.TaskPayload{ID: 42})))
}

func TestDispatcher_PublishesAfterCallerCancels(t *testing.T) {
	pub := testutil.NewMockPublisher()
	d := New(pub, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Publish(ctx, events.TaskDeleted(7, 1)))
	assert.Len(t, pub.Publications(), 1)
}

func TestDispatcher_EndToEndTwoTabs(t *testing.T) {
	b := broker.NewMemory()
	defer b.Close()
	reg := hub.New(b)
	defer reg.Stop()

	ctx := context.Background()
	tab1 := testutil.NewMockConn("tab-1")
	tab2 := testutil.NewMockConn("tab-2")
	other := testutil.NewMockConn("other-user")
	require.NoError(t, reg.Register(ctx, 7, events.StreamTasks, tab1))
	require.NoError(t, reg.Register(ctx, 7, events.StreamTasks, tab2))
	require.NoError(t, reg.Register(ctx, 8, events.StreamTasks, other))

	pq := &recordingEnqueuer{}
	d := New(b, pq, time.Second)

	require.NoError(t, d.Publish(ctx, events.TaskUpdated(7, events.TaskPayload{ID: 42, Completed: true})))

	for _, tab := range []*testutil.MockConn{tab1, tab2} {
		testutil.Eventually(t, time.Second, func() bool { return tab.FrameCount() == 1 }, tab.ID()+" frame")
		assert.JSONEq(t, `{"type":"task_update","data":{"id":42,"completed":true}}`, string(tab.Frames()[0]))
	}
	assert.Equal(t, 0, other.FrameCount())

	jobs := pq.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(7), jobs[0].userID)
	assert.Contains(t, jobs[0].msg.Body, "42")
}

func TestDispatcher_PublishOrderPreserved(t *testing.T) {
	b := broker.NewMemory()
	defer b.Close()
	reg := hub.New(b)
	defer reg.Stop()

	conn := testutil.NewMockConn("tab")
	require.NoError(t, reg.Register(context.Background(), 7, events.StreamTasks, conn))

	d := New(b, nil, time.Second)
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, d.Publish(context.Background(), events.TaskCreated(7, events.TaskPayload{ID: i})))
	}

	testutil.Eventually(t, time.Second, func() bool { return conn.FrameCount() == 20 }, "all frames")
	for i, f := range conn.Frames() {
		frame, err := events.DecodeFrame(f)
		require.NoError(t, err)
		var p events.TaskPayload
		require.NoError(t, json.Unmarshal(frame.Data, &p))
		assert.Equal(t, int64(i+1), p.ID)
	}
}
