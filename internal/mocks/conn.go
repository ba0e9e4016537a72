package mocks

import (
	"errors"
	"sync"

	"chat-relay/internal/models"
)

// ErrConnClosed is returned by Conn.Push after Close.
var ErrConnClosed = errors.New("connection closed")

// Conn is an in-memory connection that records pushed events.
type Conn struct {
	id     string
	userID string

	mu      sync.Mutex
	events  []models.Event
	closed  bool
	pushErr error
}

func NewConn(id, userID string) *Conn {
	return &Conn{id: id, userID: userID}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Push(event models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.pushErr != nil {
		return c.pushErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailPushes makes every later Push return err.
func (c *Conn) FailPushes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushErr = err
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything pushed so far.
func (c *Conn) Events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

// EventsNamed filters Events by name.
func (c *Conn) EventsNamed(name string) []models.Event {
	var out []models.Event
	for _, ev := range c.Events() {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}
