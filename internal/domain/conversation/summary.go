package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const previewLength = 120

// Summary is the list-view projection of one conversation.
type Summary struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	Status         string     `json:"status"`
	Urgency        string     `json:"urgency"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	LastPreview    string     `json:"last_preview,omitempty"`
	UnreadCount    int        `json:"unread_count"`
}

// ListSynchronizer keeps the conversation list projection current from the
// same event stream the trackers consume. A full Refresh from the store
// seeds it; insert and read events adjust it incrementally between loads.
type ListSynchronizer struct {
	svc    *Service
	userID uuid.UUID

	mu     sync.Mutex
	byConv map[uuid.UUID]*Summary
}

func NewListSynchronizer(svc *Service, userID uuid.UUID) *ListSynchronizer {
	return &ListSynchronizer{
		svc:    svc,
		userID: userID,
		byConv: make(map[uuid.UUID]*Summary),
	}
}

// Refresh rebuilds the projection from the store.
func (l *ListSynchronizer) Refresh(ctx context.Context, limit, offset int) error {
	convs, _, err := l.svc.ListConversations(ctx, l.userID, limit, offset)
	if err != nil {
		return err
	}

	next := make(map[uuid.UUID]*Summary, len(convs))
	for _, c := range convs {
		unread, err := l.svc.UnreadCount(ctx, c.ID, l.userID)
		if err != nil {
			return err
		}
		s := &Summary{
			ConversationID: c.ID,
			Status:         c.Status,
			Urgency:        c.Urgency,
			LastMessageAt:  c.LastMessageAt,
			UnreadCount:    unread,
		}
		if prev, ok := l.get(c.ID); ok {
			s.LastPreview = prev.LastPreview
		}
		next[c.ID] = s
	}

	l.mu.Lock()
	l.byConv = next
	l.mu.Unlock()
	return nil
}

func (l *ListSynchronizer) get(id uuid.UUID) (*Summary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.byConv[id]
	return s, ok
}

// OnMessageInsert advances last_message_at and the preview, and bumps the
// unread count when the message came from someone else.
func (l *ListSynchronizer) OnMessageInsert(m *Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.byConv[m.ConversationID]
	if !ok {
		s = &Summary{ConversationID: m.ConversationID}
		l.byConv[m.ConversationID] = s
	}
	if s.LastMessageAt == nil || s.LastMessageAt.Before(m.CreatedAt) {
		at := m.CreatedAt
		s.LastMessageAt = &at
		s.LastPreview = preview(m)
	}
	if m.SenderID != l.userID && m.ReadAt == nil {
		s.UnreadCount++
	}
}

// OnMessagesRead drops n from the unread count after this user read n
// messages, clamping at zero.
func (l *ListSynchronizer) OnMessagesRead(conversationID uuid.UUID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.byConv[conversationID]; ok {
		s.UnreadCount -= n
		if s.UnreadCount < 0 {
			s.UnreadCount = 0
		}
	}
}

// Snapshot returns the summaries newest-first, conversations without any
// message last.
func (l *ListSynchronizer) Snapshot() []*Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Summary, 0, len(l.byConv))
	for _, s := range l.byConv {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].ConversationID.String() < out[j].ConversationID.String()
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

func preview(m *Message) string {
	if m.Content != nil && *m.Content != "" {
		c := *m.Content
		if len(c) > previewLength {
			return c[:previewLength]
		}
		return c
	}
	if len(m.Attachments) > 0 {
		return m.Attachments[0].Name
	}
	return ""
}
