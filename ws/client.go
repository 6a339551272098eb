package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/hearth/pkg"
)

const (
	// writeWait is the time allowed to write one frame.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent. Clients send a
	// heartbeat every 30 seconds, so three missed beats drop the connection.
	pongWait = 90 * time.Second

	// maxMessageSize fits a 4000 rune message with its metadata.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one WebSocket connection.
//
// Every client runs two goroutines:
//   - readPump decodes frames and runs their handlers one at a time, so the
//     events of a connection are handled in the order they were sent. When
//     the socket fails it detaches the client from the Hub.
//   - writePump is the only writer of conn. Everything outbound goes through
//     send, which the Hub fills and closes.
//
// A client whose send buffer is full is evicted instead of blocking the Hub.
type Client struct {
	hub *Hub

	// conn is nil in tests that drive the Hub without a socket.
	conn *websocket.Conn

	// session is what handlers see: identity, rooms and notification opt-in.
	session *Session

	// send holds encoded frames waiting for writePump. Only the Hub closes
	// it, under its write lock, when the client is detached.
	send chan []byte

	// mu guards conn writes.
	mu sync.Mutex

	// ctx is cancelled when readPump returns. Handlers run under a child of
	// it, so a closed connection abandons its in-flight work.
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(ctx context.Context, hub *Hub, conn *websocket.Conn, session *Session) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		send:    make(chan []byte, sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Warn("failed to set read deadline", "conn_id", c.session.ConnID, "error", err)
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Info("unexpected close", "conn_id", c.session.ConnID, "user_id", c.session.UserID, "error", err)
			}
			return
		}

		// Any frame counts as activity.
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}

		var in rawEvent
		if err := json.Unmarshal(raw, &in); err != nil {
			c.reject(rawEvent{}, false, fmt.Errorf("%w: malformed frame", pkg.ErrBadRequest))
			continue
		}
		c.handleEvent(in)
	}
}

// handleEvent runs the admission pipeline for one inbound frame: route lookup,
// rate limit, handler, then ack or rejection to this connection only.
func (c *Client) handleEvent(in rawEvent) {
	h := c.hub

	if in.Op == OpHeartbeat {
		h.sendEvent(c, Event{Op: OpHeartbeatAck, Ref: in.Ref})
		return
	}

	r, ok := h.routes[in.Op]
	if !ok {
		c.reject(in, false, fmt.Errorf("%w: unknown op %q", pkg.ErrBadRequest, in.Op))
		return
	}
	h.metrics.EventReceived(in.Op)

	if h.limiter != nil {
		d := h.limiter.Check(c.session.ConnID, in.Op)
		if !d.Allowed {
			c.reject(in, r.ephemeral, &pkg.RateLimitError{Op: in.Op, ResetAt: d.ResetAt})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()

	ack, err := r.handle(ctx, c.session, in.Data)
	if err != nil {
		c.reject(in, r.ephemeral, err)
		return
	}
	if ack != nil {
		ack.Ref = in.Ref
		h.sendEvent(c, *ack)
	}
}

// reject reports a failed event to this connection. Failures of ephemeral
// events are only counted.
func (c *Client) reject(in rawEvent, silent bool, err error) {
	h := c.hub
	rej := pkg.Classify(err)
	h.metrics.EventRejected(in.Op, rej.Code)

	switch {
	case rej.Code == pkg.CodeRetryableInternal && !errors.Is(err, context.Canceled):
		h.logger.Error("event failed", "op", in.Op, "conn_id", c.session.ConnID, "user_id", c.session.UserID, "error", err)
	default:
		h.logger.Debug("event rejected", "op", in.Op, "conn_id", c.session.ConnID, "code", rej.Code, "error", err)
	}

	if silent {
		return
	}
	h.sendEvent(c, Event{Op: OpError, Data: ErrorData{Rejection: rej, Op: in.Op}, Ref: in.Ref})
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		message, ok := <-c.send
		if !ok {
			c.writeMessage(websocket.CloseMessage, nil)
			return
		}

		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
