//go:generate go run go.uber.org/mock/mockgen -source=deps.go -destination=mocks/mock_deps.go -package=mocks
package gateway

import (
	"context"
	"time"

	"github.com/a-essam23/go-converse/internal/store"
)

// Verifier resolves a client credential to a principal.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// Store is the slice of the relational store the gateway reads and writes.
type Store interface {
	ChannelsForPrincipal(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	InsertMessage(ctx context.Context, draft store.MessageDraft, senderID string) (store.Message, error)
	ActivityStore
}

type ActivityStore interface {
	TouchConversationActivity(ctx context.Context, conversationID string, at time.Time) error
}
