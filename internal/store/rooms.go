package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const roomColumns = `id, name, description, created_by, created_at, updated_at`

func scanRoom(row rowScanner) (Room, error) {
	var (
		room        Room
		description sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&room.ID, &room.Name, &description, &room.CreatedBy, &createdAt, &updatedAt); err != nil {
		return Room{}, err
	}
	room.Description = fromNullString(description)
	room.CreatedAt = fromMillis(createdAt)
	room.UpdatedAt = fromMillis(updatedAt)
	room.Members = []string{}
	return room, nil
}

// CreateRoom inserts a room and joins its creator to it.
func (s *Store) CreateRoom(ctx context.Context, creatorID, name string, description *string) (Room, error) {
	if err := s.ready(ctx); err != nil {
		return Room{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, fmt.Errorf("room name is required: %w", ErrInvalidArgument)
	}
	now := fromMillis(toMillis(s.now()))
	room := Room{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Members:     []string{creatorID},
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (id, name, description, created_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.Description, room.CreatedBy, toMillis(now), toMillis(now),
		); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("creator %q: %w", creatorID, ErrNotFound)
			}
			return fmt.Errorf("create room: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
			room.ID, creatorID, toMillis(now),
		); err != nil {
			return fmt.Errorf("add room creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

// ListRooms returns every room with its member ids.
func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []Room{}
	index := make(map[string]int)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		index[room.ID] = len(rooms)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	rows.Close()

	memberRows, err := s.sqlDB.QueryContext(ctx, `SELECT room_id, user_id FROM room_members ORDER BY joined_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var roomID, userID string
		if err := memberRows.Scan(&roomID, &userID); err != nil {
			return nil, fmt.Errorf("scan room member: %w", err)
		}
		if i, ok := index[roomID]; ok {
			rooms[i].Members = append(rooms[i].Members, userID)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room members: %w", err)
	}
	return rooms, nil
}

// GetRoom returns one room with its member ids.
func (s *Store) GetRoom(ctx context.Context, id string) (Room, error) {
	if err := s.ready(ctx); err != nil {
		return Room{}, err
	}
	room, err := scanRoom(s.sqlDB.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Room{}, ErrNotFound
		}
		return Room{}, fmt.Errorf("get room: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT user_id FROM room_members WHERE room_id = ? ORDER BY joined_at, user_id`, id)
	if err != nil {
		return Room{}, fmt.Errorf("list room members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return Room{}, fmt.Errorf("scan room member: %w", err)
		}
		room.Members = append(room.Members, userID)
	}
	if err := rows.Err(); err != nil {
		return Room{}, fmt.Errorf("iterate room members: %w", err)
	}
	return room, nil
}

// UpdateRoom applies a partial update. Only the room's creator may update it.
func (s *Store) UpdateRoom(ctx context.Context, id, actorID string, update RoomUpdate) (Room, error) {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return Room{}, err
	}
	if room.CreatedBy != actorID {
		return Room{}, ErrForbidden
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return Room{}, fmt.Errorf("room name cannot be empty: %w", ErrInvalidArgument)
		}
		room.Name = name
	}
	if update.Description != nil {
		room.Description = update.Description
	}
	room.UpdatedAt = fromMillis(toMillis(s.now()))

	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE rooms SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		room.Name, room.Description, toMillis(room.UpdatedAt), id,
	); err != nil {
		return Room{}, fmt.Errorf("update room: %w", err)
	}
	return room, nil
}

// DeleteRoom removes a room and, by cascade, its memberships. Creator only.
func (s *Store) DeleteRoom(ctx context.Context, id, actorID string) error {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if room.CreatedBy != actorID {
		return ErrForbidden
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// JoinRoom adds the user to an existing room.
func (s *Store) JoinRoom(ctx context.Context, id, userID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.GetRoom(ctx, id); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		id, userID, toMillis(s.now()),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrAlreadyExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("user %q: %w", userID, ErrNotFound)
	default:
		return fmt.Errorf("join room: %w", err)
	}
}

// LeaveRoom removes the user's membership; ErrNotFound if there was none.
func (s *Store) LeaveRoom(ctx context.Context, id, userID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
