package reminder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/notification"
	"github.com/carebridge/carebridge/internal/platform/realtime"
)

// Scheduler is the server-side polling worker. Each cycle it fires due task
// reminders exactly once per row (the conditional claim arbitrates between
// replicas) and due medication occurrences once per calendar day (the
// per-day fire record arbitrates). One reminder's failure never aborts the
// cycle; errors are logged and the loop continues at the next tick.
type Scheduler struct {
	tasks     TaskReminderRepository
	meds      MedicationReminderRepository
	sink      notification.Sink
	publisher realtime.Publisher
	log       zerolog.Logger

	interval time.Duration
	pageSize int
	window   time.Duration
	now      func() time.Time
}

type SchedulerConfig struct {
	Interval time.Duration
	PageSize int
	Window   time.Duration
}

func NewScheduler(tasks TaskReminderRepository, meds MedicationReminderRepository,
	sink notification.Sink, publisher realtime.Publisher, cfg SchedulerConfig, log zerolog.Logger) *Scheduler {
	if cfg.Interval < time.Minute {
		cfg.Interval = time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &Scheduler{
		tasks:     tasks,
		meds:      meds,
		sink:      sink,
		publisher: publisher,
		log:       log.With().Str("component", "scheduler").Logger(),
		interval:  cfg.Interval,
		pageSize:  cfg.PageSize,
		window:    cfg.Window,
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled. An in-flight cycle always finishes; the
// shutdown signal is only observed between cycles.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.interval).
		Int("page_size", s.pageSize).
		Msg("scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one poll over both reminder kinds.
func (s *Scheduler) RunCycle(ctx context.Context) {
	now := s.now()
	fired := s.fireTaskReminders(ctx, now)
	fired += s.fireMedicationReminders(ctx, now)
	if fired > 0 {
		s.log.Info().Int("fired", fired).Msg("cycle complete")
	}
}

func (s *Scheduler) fireTaskReminders(ctx context.Context, now time.Time) int {
	due, err := s.tasks.ListDue(ctx, now, s.pageSize)
	if err != nil {
		// Adapter unavailability on a cycle is not fatal; the next tick
		// retries from scratch.
		s.log.Error().Err(err).Msg("list due reminders")
		return 0
	}

	fired := 0
	for _, r := range due {
		if err := s.emitTask(ctx, r); err != nil {
			s.log.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("emit reminder")
			continue
		}
		claimed, err := s.tasks.ClaimSent(ctx, r.ID)
		if err != nil {
			s.log.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("claim reminder")
			continue
		}
		if !claimed {
			// Another worker claimed it between our list and our update.
			s.log.Debug().Str("reminder_id", r.ID.String()).Msg("reminder already claimed")
			continue
		}
		fired++
	}
	return fired
}

func (s *Scheduler) fireMedicationReminders(ctx context.Context, now time.Time) int {
	enabled, err := s.meds.ListEnabled(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list medication reminders")
		return 0
	}

	fired := 0
	for _, r := range enabled {
		for _, tod := range r.TimesOfDay {
			target, err := TargetInstant(now, tod)
			if err != nil {
				s.log.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("bad time of day")
				continue
			}
			delta := now.Sub(target)
			if delta < -s.window || delta > s.window {
				continue
			}
			claimed, err := s.meds.ClaimFire(ctx, r.MedicationID, tod, FireDate(now))
			if err != nil {
				s.log.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("claim medication fire")
				continue
			}
			if !claimed {
				continue
			}
			if err := s.emitMedication(ctx, r, tod); err != nil {
				s.log.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("emit medication reminder")
				continue
			}
			fired++
		}
	}
	return fired
}

func (s *Scheduler) emitTask(ctx context.Context, r *TaskReminder) error {
	if err := s.sink.Notify(ctx, "Task reminder", r.Title, r.Tag()); err != nil {
		return err
	}
	s.publishReminder(ctx, realtime.ReminderTopic(r.UserID), r)
	return nil
}

func (s *Scheduler) emitMedication(ctx context.Context, r *MedicationReminder, timeOfDay string) error {
	body := r.Name + " at " + timeOfDay
	if err := s.sink.Notify(ctx, "Medication reminder", body, r.Tag(timeOfDay)); err != nil {
		return err
	}
	s.publishReminder(ctx, realtime.ReminderTopic(r.UserID), struct {
		*MedicationReminder
		TimeOfDay string `json:"time_of_day"`
	}{r, timeOfDay})
	return nil
}

func (s *Scheduler) publishReminder(ctx context.Context, topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal reminder event")
		return
	}
	evt := realtime.Event{
		Op:        "reminder",
		Topic:     topic,
		Timestamp: s.now().UTC(),
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("publish reminder event")
	}
}
