package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/pkg/apperrors"
)

const maxTimesPerDay = 12

type Service struct {
	tasks TaskReminderRepository
	meds  MedicationReminderRepository
}

func NewService(tasks TaskReminderRepository, meds MedicationReminderRepository) *Service {
	return &Service{tasks: tasks, meds: meds}
}

func (s *Service) CreateTaskReminder(ctx context.Context, r *TaskReminder) error {
	if r.TaskID == uuid.Nil {
		return apperrors.Invalid("task_id is required")
	}
	if r.UserID == uuid.Nil {
		return apperrors.Invalid("user_id is required")
	}
	if r.Title == "" {
		return apperrors.Invalid("title is required")
	}
	if r.DueAt.IsZero() {
		return apperrors.Invalid("due_at is required")
	}
	r.Sent = false
	return s.tasks.Create(ctx, r)
}

func (s *Service) GetTaskReminder(ctx context.Context, id uuid.UUID) (*TaskReminder, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) ListTaskReminders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*TaskReminder, int, error) {
	return s.tasks.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) DeleteTaskReminder(ctx context.Context, id uuid.UUID) error {
	return s.tasks.Delete(ctx, id)
}

func (s *Service) CreateMedicationReminder(ctx context.Context, r *MedicationReminder) error {
	if r.MedicationID == uuid.Nil {
		return apperrors.Invalid("medication_id is required")
	}
	if r.UserID == uuid.Nil {
		return apperrors.Invalid("user_id is required")
	}
	if r.Name == "" {
		return apperrors.Invalid("name is required")
	}
	if len(r.TimesOfDay) == 0 {
		return apperrors.Invalid("at least one time of day is required")
	}
	if len(r.TimesOfDay) > maxTimesPerDay {
		return apperrors.Invalid("too many times of day")
	}
	seen := make(map[string]bool, len(r.TimesOfDay))
	for _, tod := range r.TimesOfDay {
		if _, _, err := ParseTimeOfDay(tod); err != nil {
			return apperrors.Invalid(err.Error())
		}
		if seen[tod] {
			return apperrors.Invalid("duplicate time of day: " + tod)
		}
		seen[tod] = true
	}
	return s.meds.Create(ctx, r)
}

func (s *Service) GetMedicationReminder(ctx context.Context, id uuid.UUID) (*MedicationReminder, error) {
	return s.meds.GetByID(ctx, id)
}

func (s *Service) ListMedicationReminders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*MedicationReminder, int, error) {
	return s.meds.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) SetMedicationReminderEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return s.meds.SetEnabled(ctx, id, enabled)
}

func (s *Service) DeleteMedicationReminder(ctx context.Context, id uuid.UUID) error {
	return s.meds.Delete(ctx, id)
}

// UpcomingForUser returns the user's unsent task reminders, the working set
// the in-session trigger evaluates between server cycles.
func (s *Service) UpcomingForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*TaskReminder, error) {
	items, _, err := s.tasks.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	upcoming := make([]*TaskReminder, 0, len(items))
	for _, r := range items {
		if !r.Sent {
			upcoming = append(upcoming, r)
		}
	}
	return upcoming, nil
}

// nextDue reports the first future occurrence among times of day, used by
// the handler to surface when a medication reminder will fire next.
func nextDue(now time.Time, timesOfDay []string) (time.Time, bool) {
	var best time.Time
	for _, tod := range timesOfDay {
		target, err := TargetInstant(now, tod)
		if err != nil {
			continue
		}
		if target.Before(now) {
			target = target.AddDate(0, 0, 1)
		}
		if best.IsZero() || target.Before(best) {
			best = target
		}
	}
	return best, !best.IsZero()
}
