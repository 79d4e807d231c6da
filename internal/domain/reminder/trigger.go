package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/notification"
	"github.com/carebridge/carebridge/pkg/apperrors"
)

// Trigger is the in-session complement to the Scheduler: it evaluates the
// reminders already loaded into the session on a short interval so a
// reminder coming due while the user is active fires immediately instead of
// waiting for the next server cycle. Its dedup is session-local only; the
// server path remains the durable guarantee.
type Trigger struct {
	sink    notification.Sink
	tone    notification.ToneSender
	haptics notification.HapticSender
	log     zerolog.Logger

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	reminders []*TaskReminder
	lastCheck time.Time
	fired     map[uuid.UUID]bool
}

func NewTrigger(sink notification.Sink, tone notification.ToneSender, haptics notification.HapticSender,
	interval time.Duration, log zerolog.Logger) *Trigger {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	t := &Trigger{
		sink:     sink,
		tone:     tone,
		haptics:  haptics,
		log:      log.With().Str("component", "trigger").Logger(),
		interval: interval,
		now:      time.Now,
		fired:    make(map[uuid.UUID]bool),
	}
	t.lastCheck = t.now()
	return t
}

// SetReminders replaces the working set, typically after a fresh load. The
// session dedup set is kept: a reload of the same rows must not re-fire.
func (t *Trigger) SetReminders(reminders []*TaskReminder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reminders = reminders
}

// Run evaluates on the trigger interval until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check(ctx)
		}
	}
}

// Check fires every reminder that came due since the previous check. The
// window is half-open (lastCheck < dueAt <= now) so a due instant is never
// evaluated by two consecutive checks, and a reminder already fired this
// session is skipped regardless.
func (t *Trigger) Check(ctx context.Context) int {
	now := t.now()

	t.mu.Lock()
	since := t.lastCheck
	t.lastCheck = now
	var due []*TaskReminder
	for _, r := range t.reminders {
		if r.Sent || t.fired[r.ID] {
			continue
		}
		if r.DueAt.After(since) && !r.DueAt.After(now) {
			t.fired[r.ID] = true
			due = append(due, r)
		}
	}
	t.mu.Unlock()

	for _, r := range due {
		t.fire(ctx, r)
	}
	return len(due)
}

// fire emits through every capability the platform offers. Each channel is
// best-effort; an absent API degrades silently.
func (t *Trigger) fire(ctx context.Context, r *TaskReminder) {
	if err := t.sink.Notify(ctx, "Task reminder", r.Title, r.Tag()); err != nil {
		t.log.Warn().Err(err).Str("reminder_id", r.ID.String()).Msg("notify")
	}
	if t.tone != nil {
		if err := t.tone.Play(ctx); err != nil && apperrors.CodeOf(err) != apperrors.CodeUnavailable {
			t.log.Debug().Err(err).Msg("tone")
		}
	}
	if t.haptics != nil {
		if err := t.haptics.Vibrate(ctx, 200*time.Millisecond); err != nil && apperrors.CodeOf(err) != apperrors.CodeUnavailable {
			t.log.Debug().Err(err).Msg("haptics")
		}
	}
}
