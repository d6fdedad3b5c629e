package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/a-essam23/go-converse/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// client -> server
const (
	EventAuthenticate     = "authenticate"
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
)

// server -> client
const (
	EventAuthenticated      = "authenticated"
	EventJoinedConversation = "joined_conversation"
	EventNewMessage         = "new_message"
	EventUserTypingStart    = "user_typing_start"
	EventUserTypingStop     = "user_typing_stop"
	EventError              = "error"
)

// Messages carried by the error event.
const (
	ErrMsgAuthenticationFailed = "Authentication failed"
	ErrMsgNotAuthenticated     = "Not authenticated"
	ErrMsgNotAMember           = "Not a member of this conversation"
	ErrMsgJoinFailed           = "Failed to join conversation"
	ErrMsgSendFailed           = "Failed to send message"
	ErrMsgUnknownEvent         = "Unknown event"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendMessagePayload is the client-supplied part of a new message. Sender and
// timestamps are always assigned server side.
type SendMessagePayload struct {
	ConversationID string   `json:"conversation_id" validate:"required"`
	Content        string   `json:"content" validate:"required"`
	Attachments    []string `json:"attachments,omitempty" validate:"omitempty,dive,required"`
}

func (p SendMessagePayload) draft() store.MessageDraft {
	return store.MessageDraft{
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Attachments:    p.Attachments,
	}
}

var (
	errNotString = errors.New("payload is not a non-empty string")
	errNotObject = errors.New("payload is not an object")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

func encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// stringPayload accepts only a JSON string with non-blank content.
func stringPayload(raw json.RawMessage) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", errNotString
	}
	value := gjson.ParseBytes(raw)
	if value.Type != gjson.String {
		return "", errNotString
	}
	s := strings.TrimSpace(value.String())
	if s == "" {
		return "", errNotString
	}
	return s, nil
}

func decodeSendMessage(raw json.RawMessage) (SendMessagePayload, error) {
	var p SendMessagePayload
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return p, errNotObject
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode send_message payload: %w", err)
	}
	p.ConversationID = strings.TrimSpace(p.ConversationID)
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("validate send_message payload: %w", err)
	}
	return p, nil
}
