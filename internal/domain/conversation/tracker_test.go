package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/pkg/apperrors"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}

func strptr(s string) *string { return &s }

// mockMessageStore scripts store behavior for tracker tests.
type mockMessageStore struct {
	sendErr       error            // fail before anything is written
	respondErr    error            // write lands, response is lost
	beforeRespond func(m *Message) // runs after "persistence", before the response returns
	sent          []*Message
	delivered     [][]uuid.UUID
	read          [][]uuid.UUID
}

func (s *mockMessageStore) SendMessage(_ context.Context, m *Message) (*Message, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	confirmed := &Message{
		ID:             uuid.New(),
		LocalID:        m.LocalID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Attachments:    m.Attachments,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusConfirmed,
	}
	s.sent = append(s.sent, confirmed)
	if s.beforeRespond != nil {
		s.beforeRespond(confirmed)
	}
	if s.respondErr != nil {
		return nil, s.respondErr
	}
	return confirmed, nil
}

func (s *mockMessageStore) MarkDelivered(_ context.Context, _, _ uuid.UUID, ids []uuid.UUID) (int64, error) {
	s.delivered = append(s.delivered, ids)
	return int64(len(ids)), nil
}

func (s *mockMessageStore) MarkRead(_ context.Context, _, _ uuid.UUID, ids []uuid.UUID) (int64, error) {
	s.read = append(s.read, ids)
	return int64(len(ids)), nil
}

func newTestTracker(store MessageStore) *Tracker {
	return NewTracker(store,
		uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"),
		zerolog.Nop())
}

func TestTracker_SendConfirms(t *testing.T) {
	store := &mockMessageStore{}
	tr := newTestTracker(store)

	m, err := tr.Send(context.Background(), strptr("hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", m.Status)
	}
	if m.ID == uuid.Nil {
		t.Error("expected server id adopted")
	}

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 message, got %d", len(snap))
	}
	if snap[0] != m {
		t.Error("expected snapshot to contain the reconciled echo, not a copy")
	}
}

func TestTracker_SendFailureKeepsFailedEcho(t *testing.T) {
	store := &mockMessageStore{sendErr: apperrors.Transient("store timeout", nil)}
	tr := newTestTracker(store)

	m, err := tr.Send(context.Background(), strptr("hello"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if m.Status != StatusFailed {
		t.Errorf("expected failed, got %s", m.Status)
	}
	if m.FailCode != string(apperrors.CodeTransientStore) {
		t.Errorf("expected transient fail code, got %q", m.FailCode)
	}
	if len(tr.Snapshot()) != 1 {
		t.Error("expected failed echo to stay visible")
	}
}

func TestTracker_ResendReusesLocalID(t *testing.T) {
	store := &mockMessageStore{sendErr: apperrors.Transient("store timeout", nil)}
	tr := newTestTracker(store)

	m, _ := tr.Send(context.Background(), strptr("hello"), nil)
	localID := m.LocalID

	store.sendErr = nil
	again, err := tr.Resend(context.Background(), localID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.LocalID != localID {
		t.Error("expected resend to reuse the local id")
	}
	if again.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", again.Status)
	}
	if len(store.sent) != 1 || store.sent[0].LocalID != localID {
		t.Error("expected the store to see the original local id")
	}
	if len(tr.Snapshot()) != 1 {
		t.Errorf("expected a single message after resend, got %d", len(tr.Snapshot()))
	}
}

func TestTracker_ResendRejectsNonFailed(t *testing.T) {
	store := &mockMessageStore{}
	tr := newTestTracker(store)
	m, _ := tr.Send(context.Background(), strptr("hello"), nil)

	if _, err := tr.Resend(context.Background(), m.LocalID); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := tr.Resend(context.Background(), uuid.New()); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTracker_EchoBeforeResponse(t *testing.T) {
	// The realtime insert for our own message can arrive before the send
	// response does. The tracker must end up with exactly one row either way.
	store := &mockMessageStore{}
	tr := newTestTracker(store)
	store.beforeRespond = func(confirmed *Message) {
		tr.OnRemoteInsert(&Message{
			ID:             confirmed.ID,
			LocalID:        confirmed.LocalID,
			ConversationID: confirmed.ConversationID,
			SenderID:       confirmed.SenderID,
			Content:        confirmed.Content,
			CreatedAt:      confirmed.CreatedAt,
		})
	}

	m, err := tr.Send(context.Background(), strptr("hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 message, got %d", len(snap))
	}
	if snap[0].ID != m.ID {
		t.Error("expected the echo and the remote insert to reconcile")
	}
	if snap[0].Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", snap[0].Status)
	}
}

func TestTracker_ErrorResponseAfterEchoStaysConfirmed(t *testing.T) {
	// The write lands and the feed confirms it, then the send response is
	// lost. The confirmed row must not step back to failed, and a resend
	// attempt must be rejected so no second row is created.
	store := &mockMessageStore{respondErr: apperrors.Transient("response lost", nil)}
	tr := newTestTracker(store)
	store.beforeRespond = func(confirmed *Message) {
		tr.OnRemoteInsert(&Message{
			ID:             confirmed.ID,
			LocalID:        confirmed.LocalID,
			ConversationID: confirmed.ConversationID,
			SenderID:       confirmed.SenderID,
			Content:        confirmed.Content,
			CreatedAt:      confirmed.CreatedAt,
		})
	}

	m, err := tr.Send(context.Background(), strptr("hello"), nil)
	if err != nil {
		t.Fatalf("expected durable send to succeed, got %v", err)
	}
	if m.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", m.Status)
	}
	if m.ID == uuid.Nil {
		t.Error("expected server id adopted from the feed")
	}
	if m.FailCode != "" {
		t.Errorf("expected no fail code, got %q", m.FailCode)
	}

	if _, err := tr.Resend(context.Background(), m.LocalID); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected resend of a confirmed message rejected, got %v", err)
	}
	if snap := tr.Snapshot(); len(snap) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(snap))
	}
	if len(store.sent) != 1 {
		t.Errorf("expected a single store write, got %d", len(store.sent))
	}
}

func TestTracker_RemoteInsertReconcilesByLocalID(t *testing.T) {
	store := &mockMessageStore{sendErr: apperrors.Transient("timeout", nil)}
	tr := newTestTracker(store)

	// The send "failed" from the client's point of view but the row was
	// actually durable; its echo later arrives over the feed.
	m, _ := tr.Send(context.Background(), strptr("hello"), nil)
	serverID := uuid.New()
	tr.OnRemoteInsert(&Message{
		ID:        serverID,
		LocalID:   m.LocalID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: time.Now().UTC(),
	})

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 message, got %d", len(snap))
	}
	if snap[0].ID != serverID {
		t.Error("expected echo to adopt the server id")
	}
	if snap[0].Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", snap[0].Status)
	}
	if snap[0].FailCode != "" {
		t.Errorf("expected fail code cleared, got %q", snap[0].FailCode)
	}
}

func TestTracker_RemoteInsertFromOtherSender(t *testing.T) {
	tr := newTestTracker(&mockMessageStore{})
	other := uuid.New()
	tr.OnRemoteInsert(&Message{
		ID:        uuid.New(),
		SenderID:  other,
		Content:   strptr("hi"),
		CreatedAt: time.Now().UTC(),
	})

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 message, got %d", len(snap))
	}
	if snap[0].Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", snap[0].Status)
	}
}

func TestTracker_DuplicateRemoteInsertIsIdempotent(t *testing.T) {
	tr := newTestTracker(&mockMessageStore{})
	m := &Message{ID: uuid.New(), SenderID: uuid.New(), Content: strptr("hi"), CreatedAt: time.Now().UTC()}
	tr.OnRemoteInsert(m)
	tr.OnRemoteInsert(&Message{ID: m.ID, SenderID: m.SenderID, Content: m.Content, CreatedAt: m.CreatedAt})

	if got := len(tr.Snapshot()); got != 1 {
		t.Errorf("expected 1 message, got %d", got)
	}
}

func TestTracker_MarkDeliveredSkipsOwnAndMarked(t *testing.T) {
	store := &mockMessageStore{}
	tr := newTestTracker(store)

	mine, _ := tr.Send(context.Background(), strptr("mine"), nil)
	_ = mine
	theirs := &Message{ID: uuid.New(), SenderID: uuid.New(), Content: strptr("theirs"), CreatedAt: time.Now().UTC()}
	already := &Message{ID: uuid.New(), SenderID: theirs.SenderID, Content: strptr("old"),
		CreatedAt: time.Now().UTC(), DeliveredAt: tsp("2026-01-02T10:00:00Z")}
	tr.OnRemoteInsert(theirs)
	tr.OnRemoteInsert(already)

	n, err := tr.MarkDelivered(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 marked, got %d", n)
	}
	if len(store.delivered) != 1 || len(store.delivered[0]) != 1 || store.delivered[0][0] != theirs.ID {
		t.Errorf("expected only the unmarked foreign message, got %v", store.delivered)
	}

	// Nothing left to mark; no store call at all.
	tr.OnReceipt(ReceiptEvent{MessageIDs: []uuid.UUID{theirs.ID}, Kind: "delivered", At: time.Now().UTC()})
	if n, _ := tr.MarkDelivered(context.Background()); n != 0 {
		t.Errorf("expected 0 on repeat, got %d", n)
	}
	if len(store.delivered) != 1 {
		t.Errorf("expected no second store call, got %d", len(store.delivered))
	}
}

func TestTracker_OnReceiptRead(t *testing.T) {
	tr := newTestTracker(&mockMessageStore{})
	m := &Message{ID: uuid.New(), SenderID: uuid.New(), Content: strptr("hi"), CreatedAt: time.Now().UTC()}
	tr.OnRemoteInsert(m)

	at := time.Now().UTC()
	tr.OnReceipt(ReceiptEvent{MessageIDs: []uuid.UUID{m.ID, uuid.New()}, Kind: "read", At: at})

	snap := tr.Snapshot()
	if snap[0].Status != StatusRead {
		t.Errorf("expected read, got %s", snap[0].Status)
	}
	if snap[0].DeliveredAt == nil {
		t.Error("expected delivered_at backfilled by read receipt")
	}
}

func TestTracker_SnapshotStableOrder(t *testing.T) {
	tr := newTestTracker(&mockMessageStore{})
	at := ts("2026-01-02T10:00:00Z")
	first := &Message{ID: uuid.New(), SenderID: uuid.New(), Content: strptr("a"), CreatedAt: at}
	second := &Message{ID: uuid.New(), SenderID: uuid.New(), Content: strptr("b"), CreatedAt: at}
	tr.OnRemoteInsert(first)
	tr.OnRemoteInsert(second)

	for i := 0; i < 5; i++ {
		snap := tr.Snapshot()
		if snap[0].ID != first.ID || snap[1].ID != second.ID {
			t.Fatal("expected equal-timestamp messages to keep arrival order")
		}
	}
}

func TestTracker_LoadPreservesPendingEchoes(t *testing.T) {
	store := &mockMessageStore{sendErr: apperrors.Transient("timeout", nil)}
	tr := newTestTracker(store)
	failed, _ := tr.Send(context.Background(), strptr("unsent"), nil)

	durable := &Message{ID: uuid.New(), SenderID: uuid.New(), Content: strptr("hi"), CreatedAt: time.Now().UTC()}
	tr.Load([]*Message{durable})

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected durable row plus failed echo, got %d", len(snap))
	}
	found := false
	for _, m := range snap {
		if m.LocalID == failed.LocalID && m.Status == StatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected the failed echo to survive a reload")
	}
}
