package reminder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskReminder is a one-shot reminder attached to a care task. Its lifecycle
// is scheduled (sent=false) until the due instant passes, then fired and
// claimed with sent=true, which is terminal.
type TaskReminder struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TaskID    uuid.UUID `db:"task_id" json:"task_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	DueAt     time.Time `db:"due_at" json:"due_at"`
	Sent      bool      `db:"sent" json:"sent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Tag returns the notification-center tag for this reminder so a re-emission
// supersedes the earlier alert instead of stacking a duplicate.
func (r *TaskReminder) Tag() string {
	return "task-reminder:" + r.ID.String()
}

// MedicationReminder recurs daily at each listed time of day. It is never
// consumed; the scheduler recomputes due occurrences every cycle and a
// persisted per-day fire record keeps each occurrence to a single emission.
type MedicationReminder struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MedicationID uuid.UUID `db:"medication_id" json:"medication_id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
	TimesOfDay   []string  `db:"times_of_day" json:"times_of_day"` // "HH:MM", 24h
	Enabled      bool      `db:"enabled" json:"enabled"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Tag returns the notification-center tag for one occurrence.
func (r *MedicationReminder) Tag(timeOfDay string) string {
	return "medication-reminder:" + r.MedicationID.String() + ":" + timeOfDay
}

// ParseTimeOfDay validates an "HH:MM" wall-clock string and returns the hour
// and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// TargetInstant maps an "HH:MM" time of day onto the calendar day of now, in
// now's location.
func TargetInstant(now time.Time, timeOfDay string) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()), nil
}

// FireDate is the calendar-day component of the per-day dedup key.
func FireDate(now time.Time) string {
	return now.Format("2006-01-02")
}
