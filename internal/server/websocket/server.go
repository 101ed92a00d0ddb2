package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/metrics"
	"github.com/brianly1003/taskpulse/internal/server/common"
)

// PathPrefix is the URL prefix of the stream endpoints: /ws/tasks and
// /ws/notifications.
const PathPrefix = "/ws/"

// Options configures the gateway.
type Options struct {
	// SendBuffer is the outbound queue size per connection.
	SendBuffer int

	// CheckOrigin validates the Origin header. Nil allows every origin.
	CheckOrigin func(r *http.Request) bool
}

// Server is the WebSocket gateway. It authenticates the handshake, resolves
// the stream from the path and registers each connection with the registry,
// which feeds it frames from the broker.
type Server struct {
	auth       common.Authenticator
	registry   ports.ConnectionRegistry
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewServer creates a new WebSocket gateway.
func NewServer(auth common.Authenticator, registry ports.ConnectionRegistry, opts Options) *Server {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		auth:     auth,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		sendBuffer: opts.SendBuffer,
		clients:    make(map[string]*Client),
	}
}

// ServeHTTP handles GET /ws/{stream}?token=<jwt>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream, ok := events.ParseStream(strings.TrimPrefix(r.URL.Path, PathPrefix))
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	// Browsers cannot set headers on a WebSocket handshake, so the token
	// travels in the query string. Validate before upgrading.
	userID, err := s.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.reject(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, userID, stream, s.sendBuffer, s.clientClosed)

	if err := s.registry.Register(r.Context(), userID, stream, client); err != nil {
		code, text := websocket.CloseInternalServerErr, "Subscription failed"
		if errors.Is(err, domain.ErrRegistryClosed) {
			code, text = websocket.CloseServiceRestart, common.CloseText(ports.CloseServerRestart)
		}
		log.Warn().Err(err).Int64("user_id", userID).Str("stream", string(stream)).Msg("failed to register connection")
		closeNow(conn, code, text)
		return
	}
	client.transition(StateSubscribed)

	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()

	log.Info().
		Str("connection_id", client.ID()).
		Int64("user_id", userID).
		Str("stream", string(stream)).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("client connected")

	client.start()
}

// reject completes the handshake only to close it with a policy-violation
// code, so browser clients can tell auth failures from network errors.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason, label := common.ReasonInvalidToken, "invalid_token"
	switch {
	case errors.Is(err, domain.ErrMissingToken):
		reason, label = common.ReasonAuthRequired, "missing_token"
	case errors.Is(err, domain.ErrInactiveUser):
		reason, label = common.ReasonInactiveUser, "inactive_user"
	}
	metrics.RecordHandshakeReject(label)
	log.Debug().Err(err).Str("path", r.URL.Path).Msg("websocket handshake rejected")

	conn, uerr := s.upgrader.Upgrade(w, r, nil)
	if uerr != nil {
		return
	}
	closeNow(conn, websocket.ClosePolicyViolation, reason)
}

func closeNow(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(common.CloseGracePeriod))
	_ = conn.Close()
}

// clientClosed runs on the client's reader goroutine once the socket is done.
func (s *Server) clientClosed(c *Client) {
	s.registry.Unregister(c.UserID(), c.Stream(), c.ID())

	s.mu.Lock()
	delete(s.clients, c.ID())
	s.mu.Unlock()

	log.Info().
		Str("connection_id", c.ID()).
		Int64("user_id", c.UserID()).
		Str("stream", string(c.Stream())).
		Msg("client disconnected")
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown refuses new handshakes, closes every client with the
// server-restart code and waits for their goroutines to exit or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.Close(ports.CloseServerRestart)
	}
	for _, c := range clients {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Info().Int("clients", len(clients)).Msg("websocket gateway stopped")
	return nil
}
