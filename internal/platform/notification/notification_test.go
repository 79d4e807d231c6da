package notification

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestManager(sender SystemSender) *Manager {
	return NewManager(sender, zerolog.Nop())
}

func TestNotify_Success(t *testing.T) {
	mock := &MockSystemSender{}
	mgr := newTestManager(mock)

	if err := mgr.Notify(context.Background(), "Medication due", "Aspirin 09:00", "med-1-0900"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(calls))
	}
	if calls[0].Tag != "med-1-0900" {
		t.Errorf("expected tag to reach the sender, got %q", calls[0].Tag)
	}

	n, ok := mgr.LatestByTag("med-1-0900")
	if !ok || n.Status != "sent" || n.SentAt == nil {
		t.Errorf("expected recorded sent notification, got %+v", n)
	}
}

func TestNotify_TagSupersedes(t *testing.T) {
	mgr := newTestManager(&MockSystemSender{})

	mgr.Notify(context.Background(), "Task due", "first", "task-9")
	first, _ := mgr.LatestByTag("task-9")
	mgr.Notify(context.Background(), "Task due", "second", "task-9")

	prev, err := mgr.Get(first.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev.Status != "superseded" {
		t.Errorf("expected earlier notification superseded, got %q", prev.Status)
	}

	latest, _ := mgr.LatestByTag("task-9")
	if latest.Body != "second" {
		t.Errorf("expected latest by tag to be the second emission, got %q", latest.Body)
	}
}

func TestNotify_FailureRecorded(t *testing.T) {
	mock := &MockSystemSender{ShouldFail: true, FailError: "permission denied"}
	mgr := newTestManager(mock)

	err := mgr.Notify(context.Background(), "Task due", "body", "task-1")
	if err == nil {
		t.Fatal("expected error from failing sender")
	}

	stats := mgr.Stats()
	if stats["failed"] != 1 {
		t.Errorf("expected 1 failed notification, got %+v", stats)
	}
}

func TestNotify_UnavailableDegradesSilently(t *testing.T) {
	mgr := newTestManager(UnavailableSender{})

	if err := mgr.Notify(context.Background(), "Task due", "body", "task-1"); err != nil {
		t.Fatalf("unavailable platform API must not surface as an error, got %v", err)
	}

	stats := mgr.Stats()
	if stats["degraded"] != 1 {
		t.Errorf("expected 1 degraded notification, got %+v", stats)
	}
}

func TestRetry_OnlyFailed(t *testing.T) {
	mock := &MockSystemSender{ShouldFail: true, FailError: "transient"}
	mgr := newTestManager(mock)

	mgr.Notify(context.Background(), "Task due", "body", "task-1")
	n, _ := mgr.LatestByTag("task-1")

	mock.ShouldFail = false
	if err := mgr.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	got, _ := mgr.Get(n.ID)
	if got.Status != "sent" || got.Error != "" {
		t.Errorf("expected retried notification sent, got %+v", got)
	}

	// A sent notification is not retryable.
	if err := mgr.Retry(context.Background(), n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
}
