package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConversationRepository is the durable-store interface for conversations.
type ConversationRepository interface {
	// Create provisions a conversation and its participant rows. It fails
	// loudly when the store rejects the write; callers must never fall back
	// to fabricated local identifiers.
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Conversation, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// MessageRepository is the durable-store interface for message rows.
// Delivery and read marking are conditional updates: the WHERE guard on the
// prior state makes concurrent markers from multiple tabs idempotent.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error)

	// MarkDelivered stamps delivered_at = at on the given messages where it
	// is still unset and the sender is not readerID. The caller supplies the
	// stamp so the receipt event it publishes carries the same value as the
	// rows. Returns affected rows.
	MarkDelivered(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error)

	// MarkRead stamps read_at = at (and delivered_at when missing) under the
	// same guard. Returns affected rows.
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error)

	// UnreadCount counts messages in the conversation not yet read and not
	// sent by userID.
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
}
