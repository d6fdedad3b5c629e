package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-essam23/go-converse/internal/server/middleware"
	"github.com/a-essam23/go-converse/internal/store"
)

type directConversationRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
}

type groupConversationRequest struct {
	Title     string   `json:"title" validate:"required,max=100"`
	MemberIDs []string `json:"member_ids" validate:"required,min=1,dive,required"`
}

type addMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	conversations, err := h.store.ListConversations(r.Context(), reqMeta.UserID)
	if err != nil {
		h.internalError(w, r, err, "Failed to fetch conversations")
		return
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	middleware.WriteJSON(w, http.StatusOK, conversations)
}

// createDirectConversation answers 200 with the existing conversation for the
// pair, or 201 when a new one was created.
func (h *Handler) createDirectConversation(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	var req directConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	conv, created, err := h.store.FindOrCreateDirectConversation(r.Context(), reqMeta.UserID, req.RecipientID)
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		middleware.WriteError(w, http.StatusBadRequest, "Recipient must be another user")
		return
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Recipient not found")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to create conversation")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, conv)
}

func (h *Handler) createGroupConversation(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	var req groupConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	conv, err := h.store.CreateGroupConversation(r.Context(), reqMeta.UserID, req.Title, req.MemberIDs)
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		middleware.WriteError(w, http.StatusBadRequest, "Title and member IDs are required")
		return
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to create group conversation")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, conv)
}

// listMessages returns one page of history, newest first, and marks the
// conversation read for the caller.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	conversationID := r.PathValue("id")

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid before timestamp")
			return
		}
		before = &ts
	}

	member, err := h.store.IsMember(r.Context(), conversationID, reqMeta.UserID)
	if err != nil {
		h.internalError(w, r, err, "Failed to fetch messages")
		return
	}
	if !member {
		middleware.WriteError(w, http.StatusForbidden, "Not a member of this conversation")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conversationID, before, store.DefaultMessagePageSize)
	if err != nil {
		h.internalError(w, r, err, "Failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}

	if err := h.store.MarkRead(r.Context(), conversationID, reqMeta.UserID, h.now()); err != nil {
		h.logger.Warn("Failed to mark conversation read",
			slog.String("conversationID", conversationID),
			slog.String("userID", reqMeta.UserID),
			slog.Any("error", err),
		)
	}
	middleware.WriteJSON(w, http.StatusOK, messages)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	var req addMemberRequest
	if !h.decode(w, r, &req) {
		return
	}

	member, err := h.store.AddMember(r.Context(), r.PathValue("id"), reqMeta.UserID, req.UserID)
	switch {
	case errors.Is(err, store.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, "Only admins can add members")
		return
	case errors.Is(err, store.ErrAlreadyExists):
		middleware.WriteError(w, http.StatusConflict, "User is already a member")
		return
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, store.ErrInvalidArgument):
		middleware.WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to add member")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, member)
}

func (h *Handler) leaveConversation(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	err = h.store.RemoveMember(r.Context(), r.PathValue("id"), reqMeta.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not a member of this conversation")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to leave conversation")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Left conversation"})
}
