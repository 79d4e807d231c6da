package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskReminderRepository is the durable-store interface for task reminders.
type TaskReminderRepository interface {
	Create(ctx context.Context, r *TaskReminder) error
	GetByID(ctx context.Context, id uuid.UUID) (*TaskReminder, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*TaskReminder, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// ListDue returns unsent reminders with due_at <= now, oldest first,
	// bounded to limit rows per cycle.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*TaskReminder, error)

	// ClaimSent flips sent false->true under a WHERE guard and reports
	// whether this caller won the claim. Concurrent workers racing on the
	// same row see exactly one true.
	ClaimSent(ctx context.Context, id uuid.UUID) (bool, error)
}

// MedicationReminderRepository is the durable-store interface for recurring
// medication reminders and their per-day fire records.
type MedicationReminderRepository interface {
	Create(ctx context.Context, r *MedicationReminder) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationReminder, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*MedicationReminder, int, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error

	ListEnabled(ctx context.Context) ([]*MedicationReminder, error)

	// ClaimFire records that the (medication, timeOfDay, fireDate)
	// occurrence fired, reporting whether this caller inserted the record.
	// A false return means another worker, or an earlier cycle of this one,
	// already fired it.
	ClaimFire(ctx context.Context, medicationID uuid.UUID, timeOfDay, fireDate string) (bool, error)
}
