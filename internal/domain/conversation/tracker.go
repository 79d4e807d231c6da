package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/pkg/apperrors"
)

// MessageStore is the subset of Service the tracker needs. Declared here so
// tests can drive the tracker against a scripted store.
type MessageStore interface {
	SendMessage(ctx context.Context, m *Message) (*Message, error)
	MarkDelivered(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID) (int64, error)
}

// Tracker maintains the in-session view of one conversation's messages. It
// inserts an optimistic pending echo before the store round-trip completes,
// then reconciles the echo with the confirmed row by local_id. Realtime
// events and store responses may arrive in either order; the tracker folds
// whichever lands second into the row already present.
type Tracker struct {
	store          MessageStore
	conversationID uuid.UUID
	userID         uuid.UUID
	log            zerolog.Logger

	mu      sync.Mutex
	byID    map[uuid.UUID]*Message
	byLocal map[uuid.UUID]*Message
	nextSeq int64
}

func NewTracker(store MessageStore, conversationID, userID uuid.UUID, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:          store,
		conversationID: conversationID,
		userID:         userID,
		log:            log.With().Str("component", "tracker").Str("conversation_id", conversationID.String()).Logger(),
		byID:           make(map[uuid.UUID]*Message),
		byLocal:        make(map[uuid.UUID]*Message),
	}
}

// Send inserts a pending echo and persists the message. On success the echo
// adopts the server id, created_at and confirmed status. On failure the echo
// stays in the view as failed with the error code so the user can retry.
func (t *Tracker) Send(ctx context.Context, content *string, attachments []Attachment) (*Message, error) {
	echo := &Message{
		LocalID:        uuid.New(),
		ConversationID: t.conversationID,
		SenderID:       t.userID,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusPending,
	}

	t.mu.Lock()
	echo.arrivalSeq = t.nextSeq
	t.nextSeq++
	t.byLocal[echo.LocalID] = echo
	t.mu.Unlock()

	return t.persist(ctx, echo)
}

// Resend retries a failed message, reusing its local_id so a confirmation
// from an earlier attempt that was actually durable still reconciles.
func (t *Tracker) Resend(ctx context.Context, localID uuid.UUID) (*Message, error) {
	t.mu.Lock()
	echo, ok := t.byLocal[localID]
	if !ok {
		t.mu.Unlock()
		return nil, apperrors.NotFound("no message with that local id")
	}
	if echo.Status != StatusFailed {
		t.mu.Unlock()
		return nil, apperrors.Invalid("only failed messages can be resent")
	}
	echo.Status = StatusPending
	echo.FailCode = ""
	t.mu.Unlock()

	return t.persist(ctx, echo)
}

func (t *Tracker) persist(ctx context.Context, echo *Message) (*Message, error) {
	sent := &Message{
		LocalID:        echo.LocalID,
		ConversationID: echo.ConversationID,
		SenderID:       echo.SenderID,
		Content:        echo.Content,
		Attachments:    echo.Attachments,
	}
	confirmed, err := t.store.SendMessage(ctx, sent)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		// The write can be durable even when the response is lost: the
		// realtime echo of our own insert may already have confirmed this
		// row by local_id. A confirmed message never steps back to failed,
		// and marking it failed would invite a resend and a duplicate row.
		if echo.ID != uuid.Nil {
			t.log.Debug().Err(err).Str("local_id", echo.LocalID.String()).
				Msg("send response lost after feed confirmation")
			return echo, nil
		}
		echo.Status = StatusFailed
		echo.FailCode = string(apperrors.CodeOf(err))
		t.log.Warn().Err(err).Str("local_id", echo.LocalID.String()).Msg("send failed")
		return echo, err
	}

	// The realtime echo of our own insert can land before this response.
	// In that case the row was already adopted under the server id; fold
	// the response into it instead of keeping two copies.
	if existing, ok := t.byID[confirmed.ID]; ok && existing != echo {
		existing.MergeRemote(confirmed)
		delete(t.byLocal, echo.LocalID)
		t.byLocal[existing.LocalID] = existing
		return existing, nil
	}

	echo.ID = confirmed.ID
	echo.CreatedAt = confirmed.CreatedAt
	if statusRank[confirmed.Status] > statusRank[echo.Status] {
		echo.Status = confirmed.Status
	} else if echo.Status == StatusPending {
		echo.Status = StatusConfirmed
	}
	echo.FailCode = ""
	t.byID[echo.ID] = echo
	return echo, nil
}

// OnRemoteInsert handles an insert event from the realtime feed. Our own
// messages reconcile by local_id against the pending echo; everything else
// is appended.
func (t *Tracker) OnRemoteInsert(remote *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[remote.ID]; ok {
		existing.MergeRemote(remote)
		return
	}
	if remote.LocalID != uuid.Nil {
		if echo, ok := t.byLocal[remote.LocalID]; ok {
			echo.ID = remote.ID
			echo.CreatedAt = remote.CreatedAt
			if echo.Status == StatusPending || echo.Status == StatusFailed {
				echo.Status = StatusConfirmed
				echo.FailCode = ""
			}
			echo.MergeRemote(remote)
			t.byID[remote.ID] = echo
			return
		}
	}

	remote.arrivalSeq = t.nextSeq
	t.nextSeq++
	if remote.Status == "" {
		remote.Status = remote.ResolveStatus()
	}
	t.byID[remote.ID] = remote
	if remote.LocalID != uuid.Nil {
		t.byLocal[remote.LocalID] = remote
	}
}

// OnRemoteUpdate folds a delivery or read transition into the tracked row.
// Unknown ids are ignored; the next full load picks them up.
func (t *Tracker) OnRemoteUpdate(remote *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[remote.ID]; ok {
		existing.MergeRemote(remote)
	}
}

// OnReceipt applies a ReceiptEvent from the realtime feed to every tracked
// message it names.
func (t *Tracker) OnReceipt(evt ReceiptEvent) {
	now := evt.At
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range evt.MessageIDs {
		m, ok := t.byID[id]
		if !ok {
			continue
		}
		patch := &Message{ID: id}
		switch evt.Kind {
		case "read":
			patch.ReadAt = &now
		default:
			patch.DeliveredAt = &now
		}
		m.MergeRemote(patch)
	}
}

// MarkDelivered reports the locally visible unmarked messages from other
// senders as delivered. The store guard makes repeats from other tabs no-ops.
func (t *Tracker) MarkDelivered(ctx context.Context) (int64, error) {
	ids := t.collect(func(m *Message) bool {
		return m.SenderID != t.userID && m.DeliveredAt == nil && m.ID != uuid.Nil
	})
	if len(ids) == 0 {
		return 0, nil
	}
	return t.store.MarkDelivered(ctx, t.conversationID, t.userID, ids)
}

// MarkRead reports every unread message from other senders as read.
func (t *Tracker) MarkRead(ctx context.Context) (int64, error) {
	ids := t.collect(func(m *Message) bool {
		return m.SenderID != t.userID && m.ReadAt == nil && m.ID != uuid.Nil
	})
	if len(ids) == 0 {
		return 0, nil
	}
	return t.store.MarkRead(ctx, t.conversationID, t.userID, ids)
}

func (t *Tracker) collect(keep func(*Message) bool) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []uuid.UUID
	for _, m := range t.byID {
		if keep(m) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Load replaces the tracked view with a page from the store, preserving any
// pending or failed local echoes that have no server row yet.
func (t *Tracker) Load(msgs []*Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := make([]*Message, 0)
	for _, m := range t.byLocal {
		if m.ID == uuid.Nil && (m.Status == StatusPending || m.Status == StatusFailed) {
			pending = append(pending, m)
		}
	}

	t.byID = make(map[uuid.UUID]*Message, len(msgs))
	t.byLocal = make(map[uuid.UUID]*Message, len(msgs)+len(pending))
	for _, m := range msgs {
		m.arrivalSeq = t.nextSeq
		t.nextSeq++
		if m.Status == "" {
			m.Status = m.ResolveStatus()
		}
		t.byID[m.ID] = m
		if m.LocalID != uuid.Nil {
			t.byLocal[m.LocalID] = m
		}
	}
	for _, m := range pending {
		t.byLocal[m.LocalID] = m
	}
}

// Snapshot returns the tracked messages ordered by created_at, with the
// arrival sequence as a stable tiebreak so equal timestamps never reorder.
func (t *Tracker) Snapshot() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Message, 0, len(t.byLocal))
	seen := make(map[*Message]bool, len(t.byLocal))
	for _, m := range t.byID {
		out = append(out, m)
		seen[m] = true
	}
	for _, m := range t.byLocal {
		if !seen[m] {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].arrivalSeq < out[j].arrivalSeq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
