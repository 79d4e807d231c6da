package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/notification"
)

func newTestTrigger(sink notification.Sink, tone notification.ToneSender, haptics notification.HapticSender) *Trigger {
	return NewTrigger(sink, tone, haptics, 15*time.Second, zerolog.Nop())
}

func TestTrigger_FiresDueReminder(t *testing.T) {
	sink, system := newLoggedSink()
	tone := &notification.MockToneSender{}
	haptics := &notification.MockHapticSender{}
	tr := newTestTrigger(sink, tone, haptics)

	start := time.Now()
	clock := start
	tr.now = func() time.Time { return clock }
	tr.lastCheck = start

	r := &TaskReminder{ID: uuid.New(), Title: "Check glucose", DueAt: start.Add(10 * time.Second)}
	tr.SetReminders([]*TaskReminder{r})

	clock = start.Add(15 * time.Second)
	if n := tr.Check(context.Background()); n != 1 {
		t.Fatalf("expected 1 fire, got %d", n)
	}
	if len(system.Calls()) != 1 {
		t.Errorf("expected system notification, got %d", len(system.Calls()))
	}
	if tone.Plays() != 1 {
		t.Errorf("expected tone, got %d", tone.Plays())
	}
	if haptics.Buzzes() != 1 {
		t.Errorf("expected haptic, got %d", haptics.Buzzes())
	}
}

func TestTrigger_HalfOpenWindow(t *testing.T) {
	sink, system := newLoggedSink()
	tr := newTestTrigger(sink, nil, nil)

	start := time.Now()
	clock := start
	tr.now = func() time.Time { return clock }
	tr.lastCheck = start

	// Due exactly at the previous check boundary: excluded (window is
	// half-open on the lower edge). Due exactly at now: included.
	atBoundary := &TaskReminder{ID: uuid.New(), Title: "boundary", DueAt: start}
	atNow := &TaskReminder{ID: uuid.New(), Title: "now", DueAt: start.Add(15 * time.Second)}
	tr.SetReminders([]*TaskReminder{atBoundary, atNow})

	clock = start.Add(15 * time.Second)
	if n := tr.Check(context.Background()); n != 1 {
		t.Fatalf("expected only the in-window reminder, got %d", n)
	}
	if calls := system.Calls(); len(calls) != 1 || calls[0].Body != "now" {
		t.Errorf("unexpected fires: %v", calls)
	}
}

func TestTrigger_SessionDedup(t *testing.T) {
	sink, system := newLoggedSink()
	tr := newTestTrigger(sink, nil, nil)

	start := time.Now()
	clock := start
	tr.now = func() time.Time { return clock }
	tr.lastCheck = start

	r := &TaskReminder{ID: uuid.New(), Title: "once", DueAt: start.Add(5 * time.Second)}
	tr.SetReminders([]*TaskReminder{r})

	clock = start.Add(15 * time.Second)
	tr.Check(context.Background())

	// A reload re-delivers the same unsent row; the session dedup set must
	// suppress the re-fire even though lastCheck moved.
	tr.lastCheck = start
	tr.SetReminders([]*TaskReminder{r})
	clock = start.Add(30 * time.Second)
	if n := tr.Check(context.Background()); n != 0 {
		t.Errorf("expected session dedup to suppress re-fire, got %d", n)
	}
	if len(system.Calls()) != 1 {
		t.Errorf("expected a single notification, got %d", len(system.Calls()))
	}
}

func TestTrigger_SkipsAlreadySent(t *testing.T) {
	sink, system := newLoggedSink()
	tr := newTestTrigger(sink, nil, nil)

	start := time.Now()
	clock := start
	tr.now = func() time.Time { return clock }
	tr.lastCheck = start

	r := &TaskReminder{ID: uuid.New(), Title: "server got it", DueAt: start.Add(5 * time.Second), Sent: true}
	tr.SetReminders([]*TaskReminder{r})

	clock = start.Add(15 * time.Second)
	if n := tr.Check(context.Background()); n != 0 {
		t.Errorf("expected sent reminder skipped, got %d", n)
	}
	if len(system.Calls()) != 0 {
		t.Error("expected no notification for an already-sent reminder")
	}
}

func TestTrigger_DegradesWithoutPlatformAPIs(t *testing.T) {
	// Every capability absent: the fire still completes without error.
	manager := notification.NewManager(notification.UnavailableSender{}, zerolog.Nop())
	tr := newTestTrigger(manager, notification.UnavailableSender{}, notification.UnavailableSender{})

	start := time.Now()
	clock := start
	tr.now = func() time.Time { return clock }
	tr.lastCheck = start

	r := &TaskReminder{ID: uuid.New(), Title: "degraded", DueAt: start.Add(5 * time.Second)}
	tr.SetReminders([]*TaskReminder{r})

	clock = start.Add(15 * time.Second)
	if n := tr.Check(context.Background()); n != 1 {
		t.Fatalf("expected fire despite missing APIs, got %d", n)
	}
	if stats := manager.Stats(); stats["degraded"] != 1 {
		t.Errorf("expected a degraded record, got %v", stats)
	}
}

func TestTrigger_ToneFailureDoesNotBlockOthers(t *testing.T) {
	sink, system := newLoggedSink()
	tone := &notification.MockToneSender{ShouldFail: true}
	haptics := &notification.MockHapticSender{}
	tr := newTestTrigger(sink, tone, haptics)

	start := time.Now()
	clock := start
	tr.now = func() time.Time { return clock }
	tr.lastCheck = start

	r := &TaskReminder{ID: uuid.New(), Title: "noisy", DueAt: start.Add(5 * time.Second)}
	tr.SetReminders([]*TaskReminder{r})

	clock = start.Add(15 * time.Second)
	tr.Check(context.Background())

	if len(system.Calls()) != 1 {
		t.Error("expected system notification despite tone failure")
	}
	if haptics.Buzzes() != 1 {
		t.Error("expected haptics despite tone failure")
	}
}
