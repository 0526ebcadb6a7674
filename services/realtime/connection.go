package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrConnectionClosed is returned when delivering to a connection that has gone away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a connection is not draining its queue.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Connection is one live realtime session of a user (a browser tab, a device).
// Outbound frames go through a bounded queue drained by the connection's own
// write pump, so a slow peer only ever blocks itself.
type Connection struct {
	ID     string
	UserID uint

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// rooms is guarded by the owning Registry's mutex.
	rooms map[uint]struct{}
}

// NewConnection creates a connection for userID with a send queue of bufferSize frames.
func NewConnection(userID uint, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		send:   make(chan []byte, bufferSize),
		done:   make(chan struct{}),
		rooms:  make(map[uint]struct{}),
	}
}

// Deliver enqueues a frame without blocking.
func (c *Connection) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Outbound is the queue the write pump drains.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection is unregistered.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// close cancels pending sends. The send channel itself is never closed so a
// concurrent Deliver cannot panic.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
