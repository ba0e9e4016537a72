package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-relay/internal/models"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn is a live websocket client. Pushes are queued and written by a single
// writer goroutine, so Push never waits on the network.
type Conn struct {
	info ConnInfo
	ws   *websocket.Conn
	opts Options
	log  *zap.Logger

	send      chan models.Event
	done      chan struct{}
	closeOnce sync.Once

	// set once under closeOnce, read by writeLoop after done is closed
	closeCode   int
	closeReason string
	abandon     bool
}

func newConn(ws *websocket.Conn, info ConnInfo, opts Options, log *zap.Logger) *Conn {
	return &Conn{
		info: info,
		ws:   ws,
		opts: opts,
		log:  log.With(zap.String("conn_id", info.ConnID), zap.String("user_id", info.UserID)),
		send: make(chan models.Event, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.info.ConnID }
func (c *Conn) UserID() string { return c.info.UserID }

// Push queues event for delivery and never blocks. A full queue means the
// client is not keeping up; the connection is abandoned and its task will
// detach it.
func (c *Conn) Push(event models.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.log.Warn("send queue full, closing connection", zap.String("event", event.Event))
		c.abort()
		return ErrSendQueueFull
	}
}

// Close is called by the session manager when a newer connection of the
// same user takes over.
func (c *Conn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "connection replaced")
	return nil
}

// closeWith marks the connection closed. The close frame is written by
// writeLoop, so callers never wait on the socket.
func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.done)
	})
}

// abort closes the connection without a close frame and cuts short any
// write in flight to a client that stopped reading.
func (c *Conn) abort() {
	c.closeOnce.Do(func() {
		c.abandon = true
		close(c.done)
		_ = c.ws.UnderlyingConn().SetWriteDeadline(time.Now())
	})
}

// shutdown runs on the writer goroutine once done is closed.
func (c *Conn) shutdown() {
	if !c.abandon {
		deadline := time.Now().Add(c.opts.WriteWait)
		msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	}
	_ = c.ws.Close()
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writeLoop drains the send queue and keeps the connection alive with pings.
// It owns every write to the socket, the close frame included.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		select {
		case event := <-c.send:
			if err := c.write(event); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				c.abort()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("websocket ping failed", zap.Error(err))
				c.closeWith(websocket.CloseGoingAway, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to encode event", zap.String("event", event.Event), zap.Error(err))
		return nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	// abort shortens the deadline after closing done; checking done after
	// our own deadline keeps that order.
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}
