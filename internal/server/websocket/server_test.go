package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/taskpulse/internal/broker"
	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/hub"
	"github.com/brianly1003/taskpulse/internal/testutil"
)

// fakeAuth maps tokens to users.
type fakeAuth map[string]int64

func (f fakeAuth) Authenticate(_ context.Context, token string) (int64, error) {
	switch token {
	case "":
		return 0, domain.ErrMissingToken
	case "inactive":
		return 0, domain.ErrInactiveUser
	}
	id, ok := f[token]
	if !ok {
		return 0, domain.ErrInvalidToken
	}
	return id, nil
}

type testEnv struct {
	srv      *httptest.Server
	gateway  *Server
	registry *hub.Registry
	broker   *broker.Memory
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	b := broker.NewMemory()
	reg := hub.New(b)
	gw := NewServer(fakeAuth{"alice": 1, "bob": 2}, reg, opts)

	mux := http.NewServeMux()
	mux.Handle(PathPrefix, gw)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		_ = reg.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
		_ = b.Close()
	})

	return &testEnv{srv: srv, gateway: gw, registry: reg, broker: b}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := e.tryDial(path)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v (resp %v)", path, err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) tryDial(path string) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(u, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return string(msg)
}

func expectClose(t *testing.T, conn *websocket.Conn, code int, text string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("ReadMessage() error = %v, want close frame %d", err, code)
		}
		if ce.Code != code {
			t.Errorf("close code = %d, want %d", ce.Code, code)
		}
		if text != "" && ce.Text != text {
			t.Errorf("close text = %q, want %q", ce.Text, text)
		}
		return
	}
}

func TestServer_TwoTabsReceiveTaskFrame(t *testing.T) {
	env := newTestEnv(t, Options{})

	tab1 := env.dial(t, "/ws/tasks?token=alice")
	tab2 := env.dial(t, "/ws/tasks?token=alice")
	other := env.dial(t, "/ws/tasks?token=bob")

	testutil.Eventually(t, time.Second, func() bool {
		return env.registry.Connections(1, events.StreamTasks) == 2 &&
			env.registry.Connections(2, events.StreamTasks) == 1
	}, "connections registered")
	if got := env.broker.TopicCount(); got != 2 {
		t.Errorf("broker TopicCount() = %d, want 2", got)
	}

	ev := events.TaskUpdated(1, events.TaskPayload{ID: 42, Completed: true})
	frame, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	topic, _ := ev.Topic()
	if err := env.broker.Publish(context.Background(), topic, frame); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	want := `{"type":"task_update","data":{"id":42,"completed":true}}`
	if got := readFrame(t, tab1); got != want {
		t.Errorf("tab1 frame = %s, want %s", got, want)
	}
	if got := readFrame(t, tab2); got != want {
		t.Errorf("tab2 frame = %s, want %s", got, want)
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, msg, err := other.ReadMessage(); err == nil {
		t.Errorf("other user received %s", msg)
	}
}

func TestServer_HandshakeRejected(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name string
		path string
		text string
	}{
		{"missing token", "/ws/tasks", "Authentication required"},
		{"invalid token", "/ws/tasks?token=forged", "Invalid token"},
		{"inactive user", "/ws/notifications?token=inactive", "User is inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t, tt.path)
			expectClose(t, conn, websocket.ClosePolicyViolation, tt.text)
		})
	}

	if env.registry.ConnectionCount() != 0 {
		t.Errorf("rejected handshakes registered %d connections", env.registry.ConnectionCount())
	}
}

func TestServer_UnknownStream(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, resp, err := env.tryDial("/ws/chat?token=alice")
	if err == nil {
		t.Fatal("Dial() to unknown stream should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
}

func TestServer_PingPong(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "/ws/notifications?token=alice")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if got := readFrame(t, conn); got != `{"type":"pong"}` {
		t.Errorf("reply = %s, want pong", got)
	}
}

func TestServer_DisconnectReleasesTopic(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "/ws/tasks?token=alice")

	testutil.Eventually(t, time.Second, func() bool {
		return env.registry.ConnectionCount() == 1
	}, "connection registered")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	testutil.Eventually(t, 2*time.Second, func() bool {
		return env.registry.ConnectionCount() == 0 && env.broker.TopicCount() == 0 && env.gateway.ClientCount() == 0
	}, "connection unregistered and topic released")
}

func TestServer_ShutdownSendsRestart(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "/ws/tasks?token=bob")

	testutil.Eventually(t, time.Second, func() bool {
		return env.gateway.ClientCount() == 1
	}, "client tracked")

	if err := env.registry.Stop(); err != nil {
		t.Fatalf("registry Stop() error = %v", err)
	}
	expectClose(t, conn, websocket.CloseServiceRestart, "Server restarting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.gateway.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_, resp, err := env.tryDial("/ws/tasks?token=bob")
	if err == nil {
		t.Fatal("Dial() after shutdown should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestServer_OriginCheck(t *testing.T) {
	env := newTestEnv(t, Options{
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == "https://app.example.com"
		},
	})

	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/tasks?token=alice"
	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	if _, _, err := websocket.DefaultDialer.Dial(u, h); err == nil {
		t.Error("Dial() with disallowed origin should fail")
	}

	h.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(u, h)
	if err != nil {
		t.Fatalf("Dial() with allowed origin error = %v", err)
	}
	_ = conn.Close()
}

func TestClient_SendBufferFull(t *testing.T) {
	c := newClient(nil, 1, events.StreamTasks, 1, nil)

	if c.State() != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", c.State())
	}
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, domain.ErrBufferFull) {
		t.Errorf("Send() error = %v, want ErrBufferFull", err)
	}

	_ = c.Close(0)
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
	if err := c.Send([]byte("c")); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Errorf("Send() after Close error = %v, want ErrConnectionClosed", err)
	}
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateAuthenticated, true},
		{StateConnecting, StateSubscribed, false},
		{StateAuthenticated, StateSubscribed, true},
		{StateSubscribed, StateAuthenticated, false},
		{StateConnecting, StateClosed, true},
		{StateSubscribed, StateClosed, true},
		{StateClosed, StateClosed, false},
	}
	for _, tt := range tests {
		if got := tt.from.next(tt.to); got != tt.ok {
			t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
