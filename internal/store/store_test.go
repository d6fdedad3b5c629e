package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/go-converse/internal/store"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *store.Store, email string) store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "", "hash")
	require.NoError(t, err)
	return u
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	first, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Ping(context.Background()))
	require.NoError(t, second.Close())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := store.Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	alice, err := s.CreateUser(ctx, "Alice@Example.com", "", "hash-a")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", alice.Email)
	require.Equal(t, "alice", alice.Username)

	_, err = s.CreateUser(ctx, "alice@example.com", "again", "hash")
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	got, hash, err := s.GetCredentials(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)
	require.Equal(t, "hash-a", hash)

	_, _, err = s.GetCredentials(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.TouchLastSeen(ctx, alice.ID, seen))
	reloaded, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastSeen)
	require.True(t, seen.Equal(*reloaded.LastSeen))
}

func TestRevokedTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	revoked, err := s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))
	revoked, err = s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	require.ErrorIs(t, s.RevokeToken(ctx, "", time.Now()), store.ErrInvalidArgument)
}

func TestMembershipAndChannels(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	alice := createUser(t, s, "alice@example.com")
	bob := createUser(t, s, "bob@example.com")
	carol := createUser(t, s, "carol@example.com")

	direct, created, err := s.FindOrCreateDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, store.ConversationOneToOne, direct.Type)
	require.Len(t, direct.Members, 2)

	// the same pair, from either side, resolves to the same conversation
	again, created, err := s.FindOrCreateDirectConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, direct.ID, again.ID)

	fetched, err := s.GetConversation(ctx, direct.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Members, 2)
	_, err = s.GetConversation(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = s.FindOrCreateDirectConversation(ctx, alice.ID, alice.ID)
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	group, err := s.CreateGroupConversation(ctx, alice.ID, "Team", []string{carol.ID, carol.ID, alice.ID, ""})
	require.NoError(t, err)
	require.True(t, group.IsGroup)
	require.Len(t, group.Members, 2)

	admin, err := s.GetMember(ctx, group.ID, alice.ID)
	require.NoError(t, err)
	require.Equal(t, store.RoleAdmin, admin.Role)

	channels, err := s.ChannelsForPrincipal(ctx, alice.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{direct.ID, group.ID}, channels)

	channels, err = s.ChannelsForPrincipal(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, []string{direct.ID}, channels)

	ok, err := s.IsMember(ctx, group.ID, bob.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// only admins add members
	_, err = s.AddMember(ctx, group.ID, carol.ID, bob.ID)
	require.ErrorIs(t, err, store.ErrForbidden)
	_, err = s.AddMember(ctx, group.ID, bob.ID, bob.ID)
	require.ErrorIs(t, err, store.ErrForbidden)
	_, err = s.AddMember(ctx, group.ID, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = s.AddMember(ctx, group.ID, alice.ID, bob.ID)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	_, err = s.AddMember(ctx, group.ID, alice.ID, "no-such-user")
	require.ErrorIs(t, err, store.ErrNotFound)

	ok, err = s.IsMember(ctx, group.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RemoveMember(ctx, group.ID, bob.ID))
	require.ErrorIs(t, s.RemoveMember(ctx, group.ID, bob.ID), store.ErrNotFound)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	alice := createUser(t, s, "alice@example.com")
	bob := createUser(t, s, "bob@example.com")
	conv, _, err := s.FindOrCreateDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg, err := s.InsertMessage(ctx, store.MessageDraft{
		ConversationID: conv.ID,
		Content:        "Hello!",
		Attachments:    []string{"https://cdn.example.com/a.png"},
	}, alice.ID)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, "Hello!", msg.Content)
	require.Equal(t, alice.ID, msg.SenderID)
	require.False(t, msg.CreatedAt.IsZero())
	require.NotNil(t, msg.Sender)
	require.Equal(t, "alice", msg.Sender.Username)
	require.Equal(t, []string{"https://cdn.example.com/a.png"}, msg.Attachments)

	_, err = s.InsertMessage(ctx, store.MessageDraft{ConversationID: "missing", Content: "x"}, alice.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	for _, content := range []string{"two", "three"} {
		_, err := s.InsertMessage(ctx, store.MessageDraft{ConversationID: conv.ID, Content: content}, bob.ID)
		require.NoError(t, err)
	}

	page, err := s.ListMessages(ctx, conv.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "three", page[0].Content)
	require.Equal(t, "two", page[1].Content)

	future := time.Now().Add(time.Hour)
	all, err := s.ListMessages(ctx, conv.ID, &future, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	past := time.Now().Add(-time.Hour)
	none, err := s.ListMessages(ctx, conv.ID, &past, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestConversationActivityOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	alice := createUser(t, s, "alice@example.com")
	bob := createUser(t, s, "bob@example.com")
	carol := createUser(t, s, "carol@example.com")

	quiet, _, err := s.FindOrCreateDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	busy, _, err := s.FindOrCreateDirectConversation(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	_, err = s.InsertMessage(ctx, store.MessageDraft{ConversationID: busy.ID, Content: "latest"}, carol.ID)
	require.NoError(t, err)
	require.NoError(t, s.TouchConversationActivity(ctx, busy.ID, time.Now()))
	require.ErrorIs(t, s.TouchConversationActivity(ctx, "missing", time.Now()), store.ErrNotFound)

	list, err := s.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, busy.ID, list[0].ID)
	require.NotNil(t, list[0].LastMessageAt)
	require.NotNil(t, list[0].LastMessage)
	require.Equal(t, "latest", list[0].LastMessage.Content)
	require.Equal(t, "carol", list[0].LastMessage.SenderUsername)
	require.Len(t, list[0].Members, 2)
	require.Equal(t, quiet.ID, list[1].ID)
	require.Nil(t, list[1].LastMessage)

	require.NoError(t, s.MarkRead(ctx, busy.ID, alice.ID, time.Now()))
	member, err := s.GetMember(ctx, busy.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, member.LastReadAt)
}

func TestRooms(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	alice := createUser(t, s, "alice@example.com")
	bob := createUser(t, s, "bob@example.com")

	desc := "general chatter"
	room, err := s.CreateRoom(ctx, alice.ID, "General", &desc)
	require.NoError(t, err)
	require.Equal(t, []string{alice.ID}, room.Members)

	_, err = s.CreateRoom(ctx, alice.ID, " ", nil)
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	require.NoError(t, s.JoinRoom(ctx, room.ID, bob.ID))
	require.ErrorIs(t, s.JoinRoom(ctx, room.ID, bob.ID), store.ErrAlreadyExists)
	require.ErrorIs(t, s.JoinRoom(ctx, "missing", bob.ID), store.ErrNotFound)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{alice.ID, bob.ID}, got.Members)

	newName := "Lobby"
	_, err = s.UpdateRoom(ctx, room.ID, bob.ID, store.RoomUpdate{Name: &newName})
	require.ErrorIs(t, err, store.ErrForbidden)
	updated, err := s.UpdateRoom(ctx, room.ID, alice.ID, store.RoomUpdate{Name: &newName})
	require.NoError(t, err)
	require.Equal(t, "Lobby", updated.Name)
	require.Equal(t, &desc, updated.Description)

	list, err := s.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Members, 2)

	require.NoError(t, s.LeaveRoom(ctx, room.ID, bob.ID))
	require.ErrorIs(t, s.LeaveRoom(ctx, room.ID, bob.ID), store.ErrNotFound)

	require.ErrorIs(t, s.DeleteRoom(ctx, room.ID, bob.ID), store.ErrForbidden)
	require.NoError(t, s.DeleteRoom(ctx, room.ID, alice.ID))
	_, err = s.GetRoom(ctx, room.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
