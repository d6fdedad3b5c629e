// Package api serves the HTTP JSON surface: accounts, conversations, message
// history and rooms.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/a-essam23/go-converse/internal/identity"
	"github.com/a-essam23/go-converse/internal/server/middleware"
	"github.com/a-essam23/go-converse/internal/store"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// Store is everything the HTTP handlers need from persistence.
type Store interface {
	CreateUser(ctx context.Context, email, username, passwordHash string) (store.User, error)
	GetCredentials(ctx context.Context, email string) (store.User, string, error)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error

	ListConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	FindOrCreateDirectConversation(ctx context.Context, creatorID, recipientID string) (store.Conversation, bool, error)
	CreateGroupConversation(ctx context.Context, creatorID, title string, memberIDs []string) (store.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	AddMember(ctx context.Context, conversationID, actorID, userID string) (store.ConversationMember, error)
	RemoveMember(ctx context.Context, conversationID, userID string) error
	ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]store.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error

	CreateRoom(ctx context.Context, creatorID, name string, description *string) (store.Room, error)
	ListRooms(ctx context.Context) ([]store.Room, error)
	GetRoom(ctx context.Context, id string) (store.Room, error)
	UpdateRoom(ctx context.Context, id, actorID string, update store.RoomUpdate) (store.Room, error)
	DeleteRoom(ctx context.Context, id, actorID string) error
	JoinRoom(ctx context.Context, id, userID string) error
	LeaveRoom(ctx context.Context, id, userID string) error
}

type Handler struct {
	logger   *slog.Logger
	store    Store
	issuer   *identity.Issuer
	validate *validator.Validate
	now      func() time.Time
}

func New(logger *slog.Logger, st Store, issuer *identity.Issuer) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		logger:   logger.With(slog.String("component", "api")),
		store:    st,
		issuer:   issuer,
		validate: validate,
		now:      time.Now,
	}
}

// Mount registers every route on mux. protect wraps the routes that require
// a bearer token.
func (h *Handler) Mount(mux *http.ServeMux, protect middleware.Middleware) {
	public := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, fn) }
	private := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, protect(fn)) }

	public("POST /api/auth/register", h.register)
	public("POST /api/auth/login", h.login)
	private("POST /api/auth/logout", h.logout)

	private("GET /api/conversations", h.listConversations)
	private("POST /api/conversations/direct", h.createDirectConversation)
	private("POST /api/conversations/group", h.createGroupConversation)
	private("GET /api/conversations/{id}/messages", h.listMessages)
	private("POST /api/conversations/{id}/members", h.addMember)
	private("POST /api/conversations/{id}/leave", h.leaveConversation)

	private("POST /api/rooms", h.createRoom)
	private("GET /api/rooms", h.listRooms)
	private("GET /api/rooms/{id}", h.getRoom)
	private("PUT /api/rooms/{id}", h.updateRoom)
	private("DELETE /api/rooms/{id}", h.deleteRoom)
	private("POST /api/rooms/{id}/join", h.joinRoom)
	private("POST /api/rooms/{id}/leave", h.leaveRoom)
}

type messageResponse struct {
	Message string `json:"message"`
}

var errNoCaller = errors.New("request has no authenticated caller")

// caller returns the authenticated user id set by the auth middleware.
func caller(r *http.Request) (*middleware.RequestMetadata, error) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.UserID == "" {
		return nil, errNoCaller
	}
	return reqMeta, nil
}

// decode reads a JSON body into dst and validates it. On failure it writes the
// 400 response itself and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request body"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.logger.Error(message, slog.String("uri", r.RequestURI), slog.Any("error", err))
	middleware.WriteError(w, http.StatusInternalServerError, message)
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
}
