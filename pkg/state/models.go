package state

import (
	"time"

	"github.com/google/uuid"
)

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Peer   // The actual connection for sending messages
	Principal string // empty until authenticated
	Channels  map[string]struct{}
	CreatedAt time.Time
}

func (c *Connection) Authenticated() bool {
	return c.Principal != ""
}

// Clone returns a copy whose channel set can be read without holding registry locks.
func (c *Connection) Clone() *Connection {
	cp := *c
	cp.Channels = make(map[string]struct{}, len(c.Channels))
	for id := range c.Channels {
		cp.Channels[id] = struct{}{}
	}
	return &cp
}
