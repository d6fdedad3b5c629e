package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-converse/internal/metrics"
	"github.com/a-essam23/go-converse/pkg/state"
	"github.com/google/uuid"
)

type eventHandler func(ctx context.Context, conn *state.Connection, payload json.RawMessage)

// Gateway is the realtime session layer. It owns the session registry and
// dispatches every inbound frame to the handler for its event.
type Gateway struct {
	logger   *slog.Logger
	registry state.Manager
	verifier Verifier
	store    Store
	activity *ActivityToucher
	metrics  *metrics.Metrics

	handlers map[string]eventHandler
}

func New(logger *slog.Logger, registry state.Manager, verifier Verifier, store Store, activity *ActivityToucher, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		logger:   logger.With(slog.String("component", "gateway")),
		registry: registry,
		verifier: verifier,
		store:    store,
		activity: activity,
		metrics:  m,
	}
	g.handlers = map[string]eventHandler{
		EventAuthenticate:     g.handleAuthenticate,
		EventJoinConversation: g.handleJoinConversation,
		EventSendMessage:      g.handleSendMessage,
		EventTypingStart:      g.handleTyping(EventUserTypingStart),
		EventTypingStop:       g.handleTyping(EventUserTypingStop),
	}
	return g
}

// Register adds a freshly connected peer to the registry. It must run before
// the peer starts reading.
func (g *Gateway) Register(peer state.Peer, ipAddr string) error {
	if _, err := g.registry.RegisterConnection(peer, ipAddr); err != nil {
		return fmt.Errorf("register connection %s: %w", peer.ID(), err)
	}
	g.metrics.ActiveConnections.Inc()
	return nil
}

// HandleMessage is the transport's message callback.
func (g *Gateway) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	conn, ok := g.registry.GetConnection(connID)
	if !ok {
		g.logger.Warn("Message from unregistered connection", slog.String("connID", connID.String()))
		return
	}

	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		g.logger.Debug("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		g.sendError(conn, ErrMsgUnknownEvent)
		return
	}

	handler, ok := g.handlers[env.Event]
	if !ok {
		g.logger.Debug("Received unknown event", slog.String("event", env.Event), slog.String("connID", connID.String()))
		g.sendError(conn, ErrMsgUnknownEvent)
		return
	}
	g.metrics.EventsReceived.WithLabelValues(env.Event).Inc()
	handler(ctx, conn, env.Payload)
}

// HandleClose is the transport's close callback. It releases every
// subscription the connection held.
func (g *Gateway) HandleClose(connID uuid.UUID, reason error) {
	g.release(connID, reason)
}

func (g *Gateway) release(connID uuid.UUID, reason error) {
	if _, ok := g.registry.GetConnection(connID); !ok {
		return
	}
	if err := g.registry.DeregisterConnection(connID); err != nil {
		g.logger.Error("Failed to deregister connection", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	g.metrics.ActiveConnections.Dec()
	g.logger.Debug("Connection released", slog.String("connID", connID.String()), slog.Any("reason", reason))
}

// CloseAll asks every live connection to close. Used on shutdown.
func (g *Gateway) CloseAll(reason error) {
	for _, conn := range g.registry.AllConnections() {
		conn.Transport.Close(reason)
	}
}

func (g *Gateway) ConnectionCount() int {
	return g.registry.ConnectionCount()
}

func (g *Gateway) send(peer state.Peer, event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		g.logger.Error("Failed to encode frame", slog.String("event", event), slog.Any("error", err))
		return
	}
	if !peer.Send(frame) {
		g.metrics.FramesDropped.Inc()
	}
}

func (g *Gateway) sendError(conn *state.Connection, message string) {
	g.metrics.ClientErrors.WithLabelValues(message).Inc()
	g.send(conn.Transport, EventError, message)
}

// noSkip includes every subscriber in a broadcast.
var noSkip = uuid.Nil

// broadcast delivers one frame to every connection subscribed to the channel
// except the one identified by skip.
func (g *Gateway) broadcast(channelID, event string, payload any, skip uuid.UUID) int {
	frame, err := encode(event, payload)
	if err != nil {
		g.logger.Error("Failed to encode broadcast", slog.String("event", event), slog.Any("error", err))
		return 0
	}
	delivered := 0
	for _, peer := range g.registry.ChannelConnections(channelID) {
		if peer.ID() == skip {
			continue
		}
		if peer.Send(frame) {
			delivered++
		} else {
			g.metrics.FramesDropped.Inc()
		}
	}
	return delivered
}

func (g *Gateway) connLogger(conn *state.Connection) *slog.Logger {
	return g.logger.With(
		slog.String("connID", conn.ID.String()),
		slog.String("principal", conn.Principal),
	)
}
