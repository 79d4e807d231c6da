package conversation

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the client-visible delivery lifecycle of a message.
// Persisted rows only carry the delivered_at/read_at timestamps; pending and
// failed exist solely for the local optimistic echo before (or instead of)
// store confirmation.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
	StatusConfirmed MessageStatus = "confirmed"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusFailed:    0,
	StatusConfirmed: 1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Attachment describes one stored file carried by a message.
type Attachment struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	SignedURL string `json:"signed_url,omitempty"`
}

// Message represents one chat message. LocalID is the client-generated
// correlation token assigned before persistence; the server id and
// created_at become authoritative once the row is confirmed.
type Message struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	LocalID        uuid.UUID    `db:"local_id" json:"local_id"`
	ConversationID uuid.UUID    `db:"conversation_id" json:"conversation_id"`
	SenderID       uuid.UUID    `db:"sender_id" json:"sender_id"`
	Content        *string      `db:"content" json:"content,omitempty"`
	Attachments    []Attachment `db:"attachments" json:"attachments,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	DeliveredAt    *time.Time   `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt         *time.Time   `db:"read_at" json:"read_at,omitempty"`

	// Local-only state, never persisted.
	Status     MessageStatus `db:"-" json:"status"`
	FailCode   string        `db:"-" json:"fail_code,omitempty"`
	arrivalSeq int64
}

// ResolveStatus derives the lifecycle status of a store-confirmed row from
// its timestamps.
func (m *Message) ResolveStatus() MessageStatus {
	switch {
	case m.ReadAt != nil:
		return StatusRead
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusConfirmed
	}
}

// MergeRemote folds a fresher copy of the same row into m, keeping both
// timestamps monotonic: the first-set value sticks, it is never cleared and
// never moved, and the status never steps backward. The store row and the
// receipt event carry the same stamp, so whichever a tab sees first is the
// value every tab converges on.
func (m *Message) MergeRemote(remote *Message) {
	if m.DeliveredAt == nil && remote.DeliveredAt != nil {
		m.DeliveredAt = remote.DeliveredAt
	}
	if remote.ReadAt != nil {
		if m.ReadAt == nil {
			m.ReadAt = remote.ReadAt
		}
		// readAt implies the message reached the reader even if the
		// delivered transition was never observed.
		if m.DeliveredAt == nil {
			m.DeliveredAt = m.ReadAt
		}
	}
	if next := m.ResolveStatus(); statusRank[next] > statusRank[m.Status] {
		m.Status = next
	}
}

// ConversationStatus values accepted by the store.
var validConversationStatuses = map[string]bool{
	"open": true, "paused": true, "archived": true,
}

var validUrgencies = map[string]bool{
	"routine": true, "urgent": true, "emergency": true,
}

// Participant is one member of a conversation. The participant set is
// immutable for the lifetime of this subsystem's view; membership changes
// happen in the care-team service.
type Participant struct {
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Role        string    `db:"role" json:"role"`
	DisplayName string    `db:"display_name" json:"display_name"`
}

// Conversation represents one care conversation.
type Conversation struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	Status        string        `db:"status" json:"status"`
	Urgency       string        `db:"urgency" json:"urgency"`
	Participants  []Participant `db:"-" json:"participants"`
	LastMessageAt *time.Time    `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// TypingSignal is the ephemeral "user is typing" marker. It is never
// persisted; receivers expire it locally after a quiet period.
type TypingSignal struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Stopped        bool      `json:"stopped,omitempty"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}
