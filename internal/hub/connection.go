package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID       string
	Identity domain.Identity
	// Monitor connections observe without touching presence.
	Monitor bool
	Conn    *websocket.Conn
	Send    chan []byte

	wmu sync.Mutex

	// mu guards groups and closed.
	mu     sync.Mutex
	groups map[string]struct{}
	closed bool
	done   chan struct{}
}

// Done is closed once the connection has been released or evicted.
// Send is never closed; writers select on Done instead.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Groups returns the groups the connection is subscribed to.
func (c *Connection) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	return out
}

// InGroup reports whether the connection is subscribed to group.
func (c *Connection) InGroup(group string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.groups[group]
	return ok
}

func (c *Connection) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrBufferFull
	}
}

func (c *Connection) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// release marks the connection closed and hands back its group set.
func (c *Connection) release() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	c.groups = make(map[string]struct{})
	return groups
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteControl writes a control frame such as ping or close.
func (c *Connection) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.Conn.WriteControl(messageType, data, deadline)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
