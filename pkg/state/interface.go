package state

import (
	"github.com/google/uuid"
)

// Peer is the transport side of a registered connection: something frames can
// be pushed to and that can be closed.
type Peer interface {
	ID() uuid.UUID
	Send(message []byte) bool
	Close(err error)
}

// Manager is the session registry. It tracks, per live connection, the bound
// principal and the channels the connection is subscribed to.
type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(peer Peer, ipAddr string) (*Connection, error)
	// drops the connection and every channel subscription it held. Idempotent.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	ConnectionCount() int
	AllConnections() []*Connection

	// --- Principal binding ---
	// binds a principal to the connection; a later call overwrites it.
	Bind(connID uuid.UUID, principal string) error

	// --- Channel subscriptions ---
	// reports whether the subscription is new. Subscribing twice is a no-op.
	Subscribe(connID uuid.UUID, channelID string) (bool, error)
	IsSubscribed(connID uuid.UUID, channelID string) bool
	ChannelConnections(channelID string) []Peer
}
