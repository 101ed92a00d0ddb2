// Package websocket implements the WebSocket gateway that streams per-user
// task and notification frames to browser tabs.
//
// Each Client manages:
//   - A goroutine for reading client frames (readPump): ping requests and
//     close detection
//   - A goroutine for writing (writePump), the only writer of the socket;
//     everything else queues through the Client's SendBuffer
//   - Automatic ping/pong for connection health monitoring
//
// Message Flow:
//   - Incoming: WebSocket → readPump → {"type":"ping"} → SendBuffer
//   - Outgoing: Registry fan-out → Client.Send() → SendBuffer → writePump → WebSocket
package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain/events"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/server/common"
)

// Client is one authenticated WebSocket connection. It implements ports.Conn.
type Client struct {
	id     string
	userID int64
	stream events.Stream
	conn   *websocket.Conn
	send   *common.SendBuffer

	state     atomic.Int32
	closeOnce sync.Once
	reason    ports.CloseReason
	onClose   func(c *Client)

	finished chan struct{}
}

func newClient(conn *websocket.Conn, userID int64, stream events.Stream, bufferSize int, onClose func(c *Client)) *Client {
	c := &Client{
		id:       uuid.New().String(),
		userID:   userID,
		stream:   stream,
		conn:     conn,
		send:     common.NewSendBuffer(bufferSize),
		onClose:  onClose,
		finished: make(chan struct{}),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user.
func (c *Client) UserID() int64 {
	return c.userID
}

// Stream returns the stream this client listens to.
func (c *Client) Stream() events.Stream {
	return c.stream
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) transition(to State) bool {
	for {
		cur := State(c.state.Load())
		if !cur.next(to) {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	return c.send.Send(frame)
}

// Close stops the client. The writer sends a close frame carrying the code
// for reason and then closes the socket. Safe to call more than once; the
// first reason wins.
func (c *Client) Close(reason ports.CloseReason) error {
	c.closeOnce.Do(func() {
		c.reason = reason
		c.transition(StateClosed)
		c.send.Close()
	})
	return nil
}

// Done returns a channel closed after both pumps have exited.
func (c *Client) Done() <-chan struct{} {
	return c.finished
}

func (c *Client) start() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		wg.Wait()
		close(c.finished)
	}()
}

// readPump reads client frames until the socket fails or closes.
func (c *Client) readPump() {
	defer func() {
		_ = c.Close(ports.CloseNormal)
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	c.conn.SetReadLimit(common.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))

		frame, err := events.DecodeFrame(message)
		if err != nil {
			continue
		}
		if frame.Type == events.EventTypePing {
			if err := c.send.Send(events.PongFrame); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("pong not queued")
			}
		}
	}
}

// writePump is the only goroutine that writes to the socket. Each frame is
// sent as a separate WebSocket message.
func (c *Client) writePump() {
	ticker := time.NewTicker(common.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.send.Done():
			c.writeClose()
			return

		case message := <-c.send.Channel():
			_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("write error")
				_ = c.Close(ports.CloseNormal)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("ping error")
				_ = c.Close(ports.CloseNormal)
				return
			}
		}
	}
}

func (c *Client) writeClose() {
	msg := websocket.FormatCloseMessage(common.CloseCode(c.reason), common.CloseText(c.reason))
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(common.CloseGracePeriod))
}

var _ ports.Conn = (*Client)(nil)
