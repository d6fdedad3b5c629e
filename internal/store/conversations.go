package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ChannelsForPrincipal returns the ids of every conversation the user belongs to.
func (s *Store) ChannelsForPrincipal(ctx context.Context, userID string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT conversation_id FROM conversation_members WHERE user_id = ? ORDER BY joined_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list member conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member conversation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member conversations: %w", err)
	}
	return ids, nil
}

// IsMember reports whether the user belongs to the conversation.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.GetMember(ctx, conversationID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetMember returns the membership row for (conversationID, userID).
func (s *Store) GetMember(ctx context.Context, conversationID, userID string) (ConversationMember, error) {
	if err := s.ready(ctx); err != nil {
		return ConversationMember{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, role, joined_at, last_read_at
		   FROM conversation_members
		  WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	)
	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversationMember{}, ErrNotFound
		}
		return ConversationMember{}, fmt.Errorf("get conversation member: %w", err)
	}
	return member, nil
}

func scanMember(row rowScanner) (ConversationMember, error) {
	var (
		member     ConversationMember
		joinedAt   int64
		lastReadAt sql.NullInt64
	)
	if err := row.Scan(&member.ConversationID, &member.UserID, &member.Role, &joinedAt, &lastReadAt); err != nil {
		return ConversationMember{}, err
	}
	member.JoinedAt = fromMillis(joinedAt)
	member.LastReadAt = fromNullMillis(lastReadAt)
	return member, nil
}

// TouchConversationActivity sets the conversation's last_message_at.
func (s *Store) TouchConversationActivity(ctx context.Context, conversationID string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		toMillis(at), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation activity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	return nil
}

// MarkRead stamps the member's last_read_at.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE conversation_members SET last_read_at = ? WHERE conversation_id = ? AND user_id = ?`,
		toMillis(at), conversationID, userID,
	); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations, most recently active first,
// each with its members and latest message preview.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT c.id, c.title, c.is_group, c.type, c.creator_id, c.last_message_at, c.created_at,
		        lm.content, lm.created_at, lu.username
		   FROM conversations c
		   JOIN conversation_members cm ON cm.conversation_id = c.id
		   LEFT JOIN messages lm ON lm.id = (
		            SELECT m.id FROM messages m
		             WHERE m.conversation_id = c.id
		             ORDER BY m.created_at DESC, m.rowid DESC
		             LIMIT 1)
		   LEFT JOIN users lu ON lu.id = lm.sender_id
		  WHERE cm.user_id = ?
		  ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var (
			previewContent  sql.NullString
			previewAt       sql.NullInt64
			previewUsername sql.NullString
		)
		conv, err := scanConversation(rows, &previewContent, &previewAt, &previewUsername)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if previewContent.Valid {
			conv.LastMessage = &MessagePreview{
				Content:        previewContent.String,
				CreatedAt:      fromMillis(previewAt.Int64),
				SenderUsername: previewUsername.String,
			}
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	if err := s.attachMembers(ctx, conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

const conversationColumns = `id, title, is_group, type, creator_id, last_message_at, created_at`

func scanConversation(row rowScanner, extra ...any) (Conversation, error) {
	var (
		conv          Conversation
		title         sql.NullString
		isGroup       int
		lastMessageAt sql.NullInt64
		createdAt     int64
	)
	dest := append([]any{&conv.ID, &title, &isGroup, &conv.Type, &conv.CreatorID, &lastMessageAt, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Conversation{}, err
	}
	conv.Title = fromNullString(title)
	conv.IsGroup = isGroup != 0
	conv.LastMessageAt = fromNullMillis(lastMessageAt)
	conv.CreatedAt = fromMillis(createdAt)
	return conv, nil
}

func (s *Store) attachMembers(ctx context.Context, conversations []Conversation) error {
	if len(conversations) == 0 {
		return nil
	}
	ids := lo.Map(conversations, func(c Conversation, _ int) any { return c.ID })
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT conversation_id, user_id, role, joined_at, last_read_at
		   FROM conversation_members
		  WHERE conversation_id IN (`+placeholders(len(ids))+`)
		  ORDER BY joined_at, user_id`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("list conversation members: %w", err)
	}
	defer rows.Close()

	byConversation := make(map[string][]ConversationMember, len(conversations))
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return fmt.Errorf("scan conversation member: %w", err)
		}
		byConversation[member.ConversationID] = append(byConversation[member.ConversationID], member)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate conversation members: %w", err)
	}
	for i := range conversations {
		conversations[i].Members = byConversation[conversations[i].ID]
	}
	return nil
}

// GetConversation returns one conversation with its members.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := s.ready(ctx); err != nil {
		return Conversation{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	list := []Conversation{conv}
	if err := s.attachMembers(ctx, list); err != nil {
		return Conversation{}, err
	}
	return list[0], nil
}

func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// FindOrCreateDirectConversation returns the one-to-one conversation between
// the two users, creating it when it does not exist yet. The bool reports creation.
func (s *Store) FindOrCreateDirectConversation(ctx context.Context, creatorID, recipientID string) (Conversation, bool, error) {
	if err := s.ready(ctx); err != nil {
		return Conversation{}, false, err
	}
	creatorID = strings.TrimSpace(creatorID)
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" || recipientID == creatorID {
		return Conversation{}, false, fmt.Errorf("recipient must be another user: %w", ErrInvalidArgument)
	}
	key := directKey(creatorID, recipientID)

	existing, err := s.conversationByDirectKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, false, err
	}

	now := fromMillis(toMillis(s.now()))
	conv := Conversation{
		ID:        uuid.NewString(),
		Type:      ConversationOneToOne,
		CreatorID: creatorID,
		CreatedAt: now,
	}
	members := []ConversationMember{
		{ConversationID: conv.ID, UserID: creatorID, Role: RoleMember, JoinedAt: now},
		{ConversationID: conv.ID, UserID: recipientID, Role: RoleMember, JoinedAt: now},
	}
	err = s.insertConversation(ctx, conv, &key, members)
	if isUniqueViolation(err) {
		// lost a race with the other participant; return the winner.
		existing, getErr := s.conversationByDirectKey(ctx, key)
		return existing, false, getErr
	}
	if err != nil {
		return Conversation{}, false, err
	}
	conv.Members = members
	return conv, true, nil
}

func (s *Store) conversationByDirectKey(ctx context.Context, key string) (Conversation, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key = ?`, key)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("find direct conversation: %w", err)
	}
	list := []Conversation{conv}
	if err := s.attachMembers(ctx, list); err != nil {
		return Conversation{}, err
	}
	return list[0], nil
}

// CreateGroupConversation creates a group with the creator as admin and every
// other listed user as member. Duplicate ids are collapsed.
func (s *Store) CreateGroupConversation(ctx context.Context, creatorID, title string, memberIDs []string) (Conversation, error) {
	if err := s.ready(ctx); err != nil {
		return Conversation{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Conversation{}, fmt.Errorf("title is required: %w", ErrInvalidArgument)
	}
	others := lo.Without(lo.Uniq(lo.Compact(lo.Map(memberIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	}))), creatorID)

	now := fromMillis(toMillis(s.now()))
	conv := Conversation{
		ID:        uuid.NewString(),
		Title:     &title,
		IsGroup:   true,
		Type:      ConversationGroup,
		CreatorID: creatorID,
		CreatedAt: now,
	}
	members := make([]ConversationMember, 0, len(others)+1)
	for _, id := range others {
		members = append(members, ConversationMember{ConversationID: conv.ID, UserID: id, Role: RoleMember, JoinedAt: now})
	}
	members = append(members, ConversationMember{ConversationID: conv.ID, UserID: creatorID, Role: RoleAdmin, JoinedAt: now})

	if err := s.insertConversation(ctx, conv, nil, members); err != nil {
		return Conversation{}, err
	}
	conv.Members = members
	return conv, nil
}

func (s *Store) insertConversation(ctx context.Context, conv Conversation, directKey *string, members []ConversationMember) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		isGroup := 0
		if conv.IsGroup {
			isGroup = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, title, is_group, type, creator_id, direct_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.Title, isGroup, conv.Type, conv.CreatorID, directKey, toMillis(conv.CreatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return err
			}
			if isForeignKeyViolation(err) {
				return fmt.Errorf("creator %q: %w", conv.CreatorID, ErrNotFound)
			}
			return fmt.Errorf("create conversation: %w", err)
		}
		for _, m := range members {
			if err := insertMember(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMember(ctx context.Context, db execer, m ConversationMember) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO conversation_members (conversation_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		m.ConversationID, m.UserID, m.Role, toMillis(m.JoinedAt),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("member %q: %w", m.UserID, ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("user %q: %w", m.UserID, ErrNotFound)
	default:
		return fmt.Errorf("add conversation member: %w", err)
	}
}

// AddMember adds userID to the conversation on behalf of actorID, who must be an admin.
func (s *Store) AddMember(ctx context.Context, conversationID, actorID, userID string) (ConversationMember, error) {
	if err := s.ready(ctx); err != nil {
		return ConversationMember{}, err
	}
	actor, err := s.GetMember(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ConversationMember{}, ErrForbidden
		}
		return ConversationMember{}, err
	}
	if actor.Role != RoleAdmin {
		return ConversationMember{}, ErrForbidden
	}

	member := ConversationMember{
		ConversationID: conversationID,
		UserID:         strings.TrimSpace(userID),
		Role:           RoleMember,
		JoinedAt:       fromMillis(toMillis(s.now())),
	}
	if member.UserID == "" {
		return ConversationMember{}, fmt.Errorf("user id is required: %w", ErrInvalidArgument)
	}
	if err := insertMember(ctx, s.sqlDB, member); err != nil {
		return ConversationMember{}, err
	}
	return member, nil
}

// RemoveMember drops a membership row. Used when a member leaves or is removed.
func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove conversation member: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
