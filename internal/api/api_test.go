package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/go-converse/internal/api"
	"github.com/a-essam23/go-converse/internal/identity"
	"github.com/a-essam23/go-converse/internal/server/middleware"
	"github.com/a-essam23/go-converse/internal/store"
	"github.com/a-essam23/go-converse/pkg/logging"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv   *httptest.Server
	store *store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := logging.Discard()
	issuer := identity.NewIssuer("test-secret", "go-converse", time.Hour)
	verifier := identity.NewJWTVerifier("test-secret", "go-converse", st)

	mux := http.NewServeMux()
	api.New(logger, st, issuer).Mount(mux, middleware.NewAuthMiddleware(logger, verifier))
	srv := httptest.NewServer(middleware.Chain(mux, middleware.RequestMetadataMiddleware()))
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, store: st}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func requireError(t *testing.T, resp *http.Response, status int, message string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	require.Equal(t, status, body.Error.Status)
	if message != "" {
		require.Equal(t, message, body.Error.Message)
	}
}

type session struct {
	token string
	user  store.User
}

func (a *testAPI) signup(t *testing.T, email string) session {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Message string     `json:"message"`
		Token   string     `json:"token"`
		User    store.User `json:"user"`
	}](t, resp)
	require.Equal(t, "Login successful", body.Message)
	require.NotEmpty(t, body.Token)
	return session{token: body.Token, user: body.User}
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "not-an-email", "password": "password123"})
	requireError(t, resp, http.StatusBadRequest, "email must be a valid email")

	resp = a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "a@example.com", "password": "short"})
	requireError(t, resp, http.StatusBadRequest, "")

	alice := a.signup(t, "a@example.com")
	require.Equal(t, "a@example.com", alice.user.Email)

	resp = a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "a@example.com", "password": "password123"})
	requireError(t, resp, http.StatusConflict, "Email already registered")

	resp = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "wrong-password"})
	requireError(t, resp, http.StatusUnauthorized, "Invalid credentials")

	resp = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "password123"})
	requireError(t, resp, http.StatusUnauthorized, "Invalid credentials")

	resp = a.do(t, http.MethodGet, "/api/conversations", "", nil)
	requireError(t, resp, http.StatusUnauthorized, "No token provided")

	resp = a.do(t, http.MethodGet, "/api/conversations", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/auth/logout", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/conversations", alice.token, nil)
	requireError(t, resp, http.StatusUnauthorized, "Invalid token")
}

func TestConversations(t *testing.T) {
	a := newTestAPI(t)
	alice := a.signup(t, "alice@example.com")
	bob := a.signup(t, "bob@example.com")
	carol := a.signup(t, "carol@example.com")

	resp := a.do(t, http.MethodPost, "/api/conversations/direct", alice.token, map[string]string{"recipient_id": bob.user.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	direct := decode[store.Conversation](t, resp)
	require.Equal(t, store.ConversationOneToOne, direct.Type)

	resp = a.do(t, http.MethodPost, "/api/conversations/direct", bob.token, map[string]string{"recipient_id": alice.user.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, direct.ID, decode[store.Conversation](t, resp).ID)

	resp = a.do(t, http.MethodPost, "/api/conversations/direct", alice.token, map[string]string{})
	requireError(t, resp, http.StatusBadRequest, "recipient_id is required")

	resp = a.do(t, http.MethodPost, "/api/conversations/group", alice.token, map[string]any{
		"title":      "Team",
		"member_ids": []string{bob.user.ID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[store.Conversation](t, resp)
	require.True(t, group.IsGroup)

	resp = a.do(t, http.MethodPost, "/api/conversations/"+group.ID+"/members", bob.token, map[string]string{"user_id": carol.user.ID})
	requireError(t, resp, http.StatusForbidden, "Only admins can add members")

	resp = a.do(t, http.MethodPost, "/api/conversations/"+group.ID+"/members", alice.token, map[string]string{"user_id": carol.user.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/conversations", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]store.Conversation](t, resp), 2)

	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		_, err := a.store.InsertMessage(ctx, store.MessageDraft{ConversationID: group.ID, Content: content}, bob.user.ID)
		require.NoError(t, err)
	}

	resp = a.do(t, http.MethodGet, "/api/conversations/"+group.ID+"/messages", carol.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := decode[[]store.Message](t, resp)
	require.Len(t, messages, 3)
	require.Equal(t, "three", messages[0].Content)
	require.NotNil(t, messages[0].Sender)

	member, err := a.store.GetMember(ctx, group.ID, carol.user.ID)
	require.NoError(t, err)
	require.NotNil(t, member.LastReadAt)

	past := url.QueryEscape(time.Now().Add(-time.Hour).Format(time.RFC3339))
	resp = a.do(t, http.MethodGet, "/api/conversations/"+group.ID+"/messages?before="+past, carol.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decode[[]store.Message](t, resp))

	resp = a.do(t, http.MethodGet, "/api/conversations/"+group.ID+"/messages?before=yesterday", carol.token, nil)
	requireError(t, resp, http.StatusBadRequest, "Invalid before timestamp")

	resp = a.do(t, http.MethodGet, "/api/conversations/"+direct.ID+"/messages", carol.token, nil)
	requireError(t, resp, http.StatusForbidden, "Not a member of this conversation")

	resp = a.do(t, http.MethodPost, "/api/conversations/"+group.ID+"/leave", carol.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/conversations/"+group.ID+"/leave", carol.token, nil)
	requireError(t, resp, http.StatusNotFound, "Not a member of this conversation")
}

func TestRooms(t *testing.T) {
	a := newTestAPI(t)
	owner := a.signup(t, "owner@example.com")
	guest := a.signup(t, "guest@example.com")

	resp := a.do(t, http.MethodPost, "/api/rooms", owner.token, map[string]string{"name": "General", "description": "chat"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	room := decode[store.Room](t, resp)
	require.Equal(t, []string{owner.user.ID}, room.Members)

	resp = a.do(t, http.MethodPost, "/api/rooms", owner.token, map[string]string{})
	requireError(t, resp, http.StatusBadRequest, "name is required")

	resp = a.do(t, http.MethodGet, "/api/rooms/missing", guest.token, nil)
	requireError(t, resp, http.StatusNotFound, "Room not found")

	resp = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", guest.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", guest.token, nil)
	requireError(t, resp, http.StatusBadRequest, "Already a member of this room")

	resp = a.do(t, http.MethodGet, "/api/rooms/"+room.ID, guest.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[store.Room](t, resp).Members, 2)

	resp = a.do(t, http.MethodPut, "/api/rooms/"+room.ID, guest.token, map[string]string{"name": "Mine"})
	requireError(t, resp, http.StatusForbidden, "Not authorized to update this room")

	resp = a.do(t, http.MethodPut, "/api/rooms/"+room.ID, owner.token, map[string]string{"name": "Lobby"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Lobby", decode[store.Room](t, resp).Name)

	resp = a.do(t, http.MethodGet, "/api/rooms", guest.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]store.Room](t, resp), 1)

	resp = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/leave", guest.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/leave", guest.token, nil)
	requireError(t, resp, http.StatusBadRequest, "Not a member of this room")

	resp = a.do(t, http.MethodDelete, "/api/rooms/"+room.ID, guest.token, nil)
	requireError(t, resp, http.StatusForbidden, "Not authorized to delete this room")

	resp = a.do(t, http.MethodDelete, "/api/rooms/"+room.ID, owner.token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/rooms/"+room.ID, owner.token, nil)
	requireError(t, resp, http.StatusNotFound, "Room not found")
}
