package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultMessagePageSize = 50

const messageSelect = `SELECT m.id, m.conversation_id, m.sender_id, m.content, m.attachments, m.read_at, m.created_at,
        u.id, u.email, u.username, u.avatar_url, u.last_seen, u.created_at
   FROM messages m
   JOIN users u ON u.id = m.sender_id`

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg             Message
		sender          User
		attachments     sql.NullString
		readAt          sql.NullInt64
		createdAt       int64
		senderAvatarURL sql.NullString
		senderLastSeen  sql.NullInt64
		senderCreatedAt int64
	)
	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &attachments, &readAt, &createdAt,
		&sender.ID, &sender.Email, &sender.Username, &senderAvatarURL, &senderLastSeen, &senderCreatedAt,
	); err != nil {
		return Message{}, err
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	msg.ReadAt = fromNullMillis(readAt)
	msg.CreatedAt = fromMillis(createdAt)
	sender.AvatarURL = fromNullString(senderAvatarURL)
	sender.LastSeen = fromNullMillis(senderLastSeen)
	sender.CreatedAt = fromMillis(senderCreatedAt)
	msg.Sender = &sender
	return msg, nil
}

// InsertMessage persists a message from senderID and returns the stored row
// joined with the sender's profile.
func (s *Store) InsertMessage(ctx context.Context, draft MessageDraft, senderID string) (Message, error) {
	if err := s.ready(ctx); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(draft.ConversationID) == "" || strings.TrimSpace(senderID) == "" {
		return Message{}, fmt.Errorf("conversation and sender are required: %w", ErrInvalidArgument)
	}

	var attachments any
	if len(draft.Attachments) > 0 {
		encoded, err := json.Marshal(draft.Attachments)
		if err != nil {
			return Message{}, fmt.Errorf("encode attachments: %w", err)
		}
		attachments = string(encoded)
	}

	id := uuid.NewString()
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, attachments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, draft.ConversationID, senderID, draft.Content, attachments, toMillis(s.now()),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Message{}, fmt.Errorf("conversation or sender: %w", ErrNotFound)
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	row := s.sqlDB.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("load inserted message: %w", err)
	}
	return msg, nil
}

// ListMessages returns up to limit messages newest-first. A non-nil before
// restricts the page to messages created strictly earlier.
func (s *Store) ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}

	query := messageSelect + ` WHERE m.conversation_id = ?`
	args := []any{conversationID}
	if before != nil {
		query += ` AND m.created_at < ?`
		args = append(args, toMillis(*before))
	}
	query += ` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
