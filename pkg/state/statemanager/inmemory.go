package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-converse/pkg/state"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrUnknownConnection = errors.New("unknown connection")
)

type InMemoryManager struct {
	conns    map[uuid.UUID]*state.Connection
	channels map[string]map[uuid.UUID]*state.Connection

	// one lock guards both maps; they always change together.
	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:    make(map[uuid.UUID]*state.Connection),
		channels: make(map[string]map[uuid.UUID]*state.Connection),
		logger:   logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(peer state.Peer, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := peer.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, ErrAlreadyRegistered
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: peer,
		Channels:  make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn.Clone(), nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return nil
	}
	delete(m.conns, connID)

	for channelID := range conn.Channels {
		members := m.channels[channelID]
		delete(members, connID)
		// For memory hygiene, remove the channel if it's now empty.
		if len(members) == 0 {
			delete(m.channels, channelID)
		}
	}
	m.logger.Debug("Connection deregistered",
		slog.String("connID", connID.String()),
		slog.String("principal", conn.Principal),
		slog.Int("channels", len(conn.Channels)),
	)
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.Clone(), true
}

func (m *InMemoryManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c.Clone())
	}
	return conns
}

// --- Principal binding ---

func (m *InMemoryManager) Bind(connID uuid.UUID, principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if conn.Principal != "" && conn.Principal != principal {
		m.logger.Info("Rebinding connection to a new principal",
			slog.String("connID", connID.String()),
			slog.String("previous", conn.Principal),
			slog.String("principal", principal),
		)
	}
	conn.Principal = principal
	return nil
}

// --- Channel subscriptions ---

func (m *InMemoryManager) Subscribe(connID uuid.UUID, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, exists := conn.Channels[channelID]; exists {
		return false, nil
	}

	members, exists := m.channels[channelID]
	if !exists {
		members = make(map[uuid.UUID]*state.Connection)
		m.channels[channelID] = members
	}
	members[connID] = conn
	conn.Channels[channelID] = struct{}{}

	m.logger.Debug("Connection subscribed", slog.String("connID", connID.String()), slog.String("channelID", channelID))
	return true, nil
}

func (m *InMemoryManager) IsSubscribed(connID uuid.UUID, channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok {
		return false
	}
	_, ok = conn.Channels[channelID]
	return ok
}

func (m *InMemoryManager) ChannelConnections(channelID string) []state.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.channels[channelID]
	peers := make([]state.Peer, 0, len(members))
	for _, c := range members {
		peers = append(peers, c.Transport)
	}
	return peers
}
