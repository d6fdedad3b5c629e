package store

import "time"

const (
	ConversationOneToOne = "one_to_one"
	ConversationGroup    = "group"

	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is the public profile of an account. The password hash never leaves the store.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	AvatarURL *string    `json:"avatar_url,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Conversation struct {
	ID            string               `json:"id"`
	Title         *string              `json:"title,omitempty"`
	IsGroup       bool                 `json:"is_group"`
	Type          string               `json:"type"`
	CreatorID     string               `json:"creator_id"`
	LastMessageAt *time.Time           `json:"last_message_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	Members       []ConversationMember `json:"members,omitempty"`
	LastMessage   *MessagePreview      `json:"last_message,omitempty"`
}

type ConversationMember struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           string     `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
}

type MessagePreview struct {
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	SenderUsername string    `json:"sender_username"`
}

// Message is a persisted chat message joined with its sender's profile.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	Attachments    []string   `json:"attachments,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Sender         *User      `json:"sender,omitempty"`
}

// MessageDraft carries the client-supplied fields of a new message.
type MessageDraft struct {
	ConversationID string
	Content        string
	Attachments    []string
}

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Members     []string  `json:"members"`
}

type RoomUpdate struct {
	Name        *string
	Description *string
}
