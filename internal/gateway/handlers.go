package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-converse/pkg/state"
	"github.com/a-essam23/go-converse/pkg/transport"
)

var (
	errEmptyPrincipal = errors.New("verifier returned no principal")
	errAuthFailed     = fmt.Errorf("%w: authentication failed", transport.ErrClosedByServer)
)

func (g *Gateway) handleAuthenticate(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	logger := g.connLogger(conn)

	credential, err := stringPayload(payload)
	if err == nil {
		var principal string
		principal, err = g.verifier.Verify(ctx, credential)
		if err == nil && principal == "" {
			err = errEmptyPrincipal
		}
		if err == nil {
			g.authenticate(ctx, conn, principal)
			return
		}
	}

	logger.Warn("Authentication rejected", slog.String("ip", conn.IPAddress), slog.Any("error", err))
	g.sendError(conn, ErrMsgAuthenticationFailed)
	// drop the binding now so nothing still in flight runs as the old principal
	g.release(conn.ID, errAuthFailed)
	conn.Transport.Close(errAuthFailed)
}

// authenticate binds the principal and subscribes the connection to every
// conversation the store lists for it. Subscriptions are best effort: a failed
// lookup leaves the connection authenticated with what it already has.
func (g *Gateway) authenticate(ctx context.Context, conn *state.Connection, principal string) {
	logger := g.logger.With(slog.String("connID", conn.ID.String()), slog.String("principal", principal))

	if err := g.registry.Bind(conn.ID, principal); err != nil {
		logger.Warn("Failed to bind principal", slog.Any("error", err))
		return
	}

	channels, err := g.store.ChannelsForPrincipal(ctx, principal)
	if err != nil {
		logger.Error("Failed to load conversation memberships", slog.Any("error", err))
	}
	subscribed := 0
	for _, channelID := range channels {
		if _, err := g.registry.Subscribe(conn.ID, channelID); err != nil {
			logger.Warn("Failed to subscribe to conversation", slog.String("conversationID", channelID), slog.Any("error", err))
			break
		}
		subscribed++
	}

	logger.Info("Connection authenticated", slog.Int("channels", subscribed))
	g.send(conn.Transport, EventAuthenticated, nil)
}

func (g *Gateway) handleJoinConversation(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	if !conn.Authenticated() {
		g.sendError(conn, ErrMsgNotAuthenticated)
		return
	}
	logger := g.connLogger(conn)

	conversationID, err := stringPayload(payload)
	if err != nil {
		logger.Debug("Invalid join payload", slog.Any("error", err))
		g.sendError(conn, ErrMsgNotAMember)
		return
	}

	member, err := g.store.IsMember(ctx, conversationID, conn.Principal)
	if err != nil {
		logger.Warn("Membership lookup failed", slog.String("conversationID", conversationID), slog.Any("error", err))
	}
	if err != nil || !member {
		g.sendError(conn, ErrMsgNotAMember)
		return
	}

	if _, err := g.registry.Subscribe(conn.ID, conversationID); err != nil {
		logger.Warn("Failed to subscribe to conversation", slog.String("conversationID", conversationID), slog.Any("error", err))
		g.sendError(conn, ErrMsgJoinFailed)
		return
	}
	g.send(conn.Transport, EventJoinedConversation, conversationID)
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	if !conn.Authenticated() {
		g.sendError(conn, ErrMsgNotAuthenticated)
		return
	}
	logger := g.connLogger(conn)

	p, err := decodeSendMessage(payload)
	if err != nil {
		logger.Debug("Invalid send_message payload", slog.Any("error", err))
		g.sendError(conn, ErrMsgSendFailed)
		return
	}

	// membership can be revoked after the connection subscribed
	member, err := g.store.IsMember(ctx, p.ConversationID, conn.Principal)
	if err != nil {
		logger.Warn("Membership lookup failed", slog.String("conversationID", p.ConversationID), slog.Any("error", err))
		g.sendError(conn, ErrMsgSendFailed)
		return
	}
	if !member {
		g.sendError(conn, ErrMsgNotAMember)
		return
	}

	msg, err := g.store.InsertMessage(ctx, p.draft(), conn.Principal)
	if err == nil && msg.ID == "" {
		err = errors.New("store returned an empty message")
	}
	if err != nil {
		logger.Error("Failed to persist message", slog.String("conversationID", p.ConversationID), slog.Any("error", err))
		g.sendError(conn, ErrMsgSendFailed)
		return
	}

	g.metrics.MessagesSent.Inc()
	delivered := g.broadcast(p.ConversationID, EventNewMessage, msg, noSkip)
	logger.Debug("Message broadcast", slog.String("messageID", msg.ID), slog.Int("delivered", delivered))

	g.activity.Touch(p.ConversationID)
}

// handleTyping relays a typing signal to the other subscribers of a
// conversation the sender is subscribed to and still a member of. Nothing is
// persisted.
func (g *Gateway) handleTyping(relay string) eventHandler {
	return func(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
		if !conn.Authenticated() {
			g.sendError(conn, ErrMsgNotAuthenticated)
			return
		}
		conversationID, err := stringPayload(payload)
		if err != nil {
			return
		}
		if !g.registry.IsSubscribed(conn.ID, conversationID) {
			g.connLogger(conn).Debug("Typing signal for unsubscribed conversation", slog.String("conversationID", conversationID))
			return
		}
		member, err := g.store.IsMember(ctx, conversationID, conn.Principal)
		if err != nil || !member {
			g.connLogger(conn).Debug("Typing signal dropped", slog.String("conversationID", conversationID), slog.Bool("member", member), slog.Any("error", err))
			return
		}
		g.broadcast(conversationID, relay, conn.Principal, conn.ID)
	}
}
