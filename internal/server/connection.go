package server

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Connection is one client session: its transport and its current room.
//
// The room is written only by the owning handler but read by every handler
// that broadcasts, so it is kept in an atomic.
type Connection struct {
	id        string
	transport Transport
	room      atomic.Int64
}

// NewConnection binds a fresh Connection to a transport. The room is unset
// until the handshake succeeds.
func NewConnection(transport Transport) *Connection {
	c := &Connection{
		id:        uuid.NewString(),
		transport: transport,
	}
	c.room.Store(-1)
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Room returns the room the connection currently belongs to, or -1 before
// the handshake.
func (c *Connection) Room() int {
	return int(c.room.Load())
}

// Addr returns the remote address of the underlying transport.
func (c *Connection) Addr() string {
	return c.transport.RemoteAddr()
}

func (c *Connection) setRoom(room int) {
	c.room.Store(int64(room))
}

func (c *Connection) send(line string) error {
	return c.transport.WriteLine(line)
}

func (c *Connection) close() error {
	return c.transport.Close()
}
