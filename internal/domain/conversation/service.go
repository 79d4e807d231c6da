package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/realtime"
	"github.com/carebridge/carebridge/pkg/apperrors"
)

// MaxContentLength bounds message bodies; attachments carry large payloads.
const MaxContentLength = 8000

type Service struct {
	convs     ConversationRepository
	messages  MessageRepository
	publisher realtime.Publisher
	log       zerolog.Logger
}

func NewService(convs ConversationRepository, messages MessageRepository, publisher realtime.Publisher, log zerolog.Logger) *Service {
	return &Service{
		convs:     convs,
		messages:  messages,
		publisher: publisher,
		log:       log.With().Str("component", "conversation").Logger(),
	}
}

// -- Conversation --

// Provision creates a conversation row before the first message is sent.
// A store rejection propagates to the caller: there is no client-side
// fallback identifier, a conversation either exists in the store or not.
func (s *Service) Provision(ctx context.Context, urgency string, participants []Participant) (*Conversation, error) {
	if len(participants) < 2 {
		return nil, apperrors.Invalid("a conversation requires at least two participants")
	}
	seen := make(map[uuid.UUID]bool, len(participants))
	for _, p := range participants {
		if p.UserID == uuid.Nil {
			return nil, apperrors.Invalid("participant user_id is required")
		}
		if p.Role == "" {
			return nil, apperrors.Invalid("participant role is required")
		}
		if seen[p.UserID] {
			return nil, apperrors.Invalid("duplicate participant")
		}
		seen[p.UserID] = true
	}
	if urgency == "" {
		urgency = "routine"
	}
	if !validUrgencies[urgency] {
		return nil, apperrors.Invalid("invalid urgency: " + urgency)
	}

	c := &Conversation{
		Status:       "open",
		Urgency:      urgency,
		Participants: participants,
	}
	if err := s.convs.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetConversation(ctx context.Context, id, userID uuid.UUID) (*Conversation, error) {
	c, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, apperrors.Forbidden("not a participant of this conversation")
	}
	return c, nil
}

// SetStatus moves the conversation between open, paused and archived.
func (s *Service) SetStatus(ctx context.Context, id, userID uuid.UUID, status string) (*Conversation, error) {
	if !validConversationStatuses[status] {
		return nil, apperrors.Invalid("invalid status: " + status)
	}
	c, err := s.GetConversation(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := s.convs.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	c.Status = status
	return c, nil
}

func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Conversation, int, error) {
	return s.convs.ListByParticipant(ctx, userID, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	return s.messages.UnreadCount(ctx, conversationID, userID)
}

// -- Messages --

func (s *Service) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}
	return s.messages.ListByConversation(ctx, conversationID, limit, offset)
}

// SendMessage validates and persists m, then fans the confirmed row out on
// the conversation's realtime topic. The returned message carries the
// server id and created_at. Validation failures never reach the store.
func (s *Service) SendMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.ConversationID == uuid.Nil {
		return nil, apperrors.Invalid("conversation_id is required")
	}
	if m.SenderID == uuid.Nil {
		return nil, apperrors.Invalid("sender_id is required")
	}
	hasContent := m.Content != nil && *m.Content != ""
	if !hasContent && len(m.Attachments) == 0 {
		return nil, apperrors.Invalid("message requires content or attachments")
	}
	if hasContent && len(*m.Content) > MaxContentLength {
		return nil, apperrors.Invalid("message content too long")
	}
	if m.LocalID == uuid.Nil {
		m.LocalID = uuid.New()
	}

	conv, err := s.convs.GetByID(ctx, m.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(m.SenderID) {
		return nil, apperrors.Forbidden("not a participant of this conversation")
	}
	if conv.Status == "archived" {
		return nil, apperrors.Invalid("conversation is archived")
	}

	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}

	s.publishMessage(ctx, "insert", m)
	return m, nil
}

// MarkDelivered stamps delivered_at on messages the reader observed. The
// repository guard makes repeated calls from any number of tabs converge.
// The stamp written to the rows and the one carried by the receipt event
// are the same value, so every tab lands on identical timestamps.
func (s *Service) MarkDelivered(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at := time.Now().UTC()
	affected, err := s.messages.MarkDelivered(ctx, conversationID, readerID, ids, at)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.publishReceipt(ctx, conversationID, readerID, ids, "delivered", at)
	}
	return affected, nil
}

// MarkRead stamps read_at under the same convergence guard.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at := time.Now().UTC()
	affected, err := s.messages.MarkRead(ctx, conversationID, readerID, ids, at)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.publishReceipt(ctx, conversationID, readerID, ids, "read", at)
	}
	return affected, nil
}

// -- Realtime fan-out --

// ReceiptEvent is the wire payload for delivery/read transitions.
type ReceiptEvent struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ReaderID       uuid.UUID   `json:"reader_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	Kind           string      `json:"kind"` // "delivered" or "read"
	At             time.Time   `json:"at"`
}

func (s *Service) publishMessage(ctx context.Context, op string, m *Message) {
	data, err := json.Marshal(m)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal message event")
		return
	}
	evt := realtime.Event{
		Op:        op,
		Topic:     realtime.ConversationTopic(m.ConversationID),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		// Fan-out is best-effort; the row is already durable and tabs
		// resync on reconnect.
		s.log.Warn().Err(err).Str("conversation_id", m.ConversationID.String()).Msg("publish message event")
	}
}

func (s *Service) publishReceipt(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID, kind string, at time.Time) {
	data, err := json.Marshal(ReceiptEvent{
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     ids,
		Kind:           kind,
		At:             at,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("marshal receipt event")
		return
	}
	evt := realtime.Event{
		Op:        "update",
		Topic:     realtime.ConversationTopic(conversationID),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("publish receipt event")
	}
}
