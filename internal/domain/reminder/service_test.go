package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/pkg/apperrors"
)

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"09:00", true},
		{"00:00", true},
		{"23:59", true},
		{"24:00", false},
		{"9:00", false},
		{"09:60", false},
		{"0900", false},
		{"", false},
	}
	for _, tc := range cases {
		_, _, err := ParseTimeOfDay(tc.in)
		if tc.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q: expected error", tc.in)
		}
	}
}

func TestTargetInstant(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	target, err := TargetInstant(now, "09:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !target.Equal(want) {
		t.Errorf("expected %v, got %v", want, target)
	}
}

func TestCreateTaskReminder_Validation(t *testing.T) {
	svc := NewService(newMemTaskRepo(), newMemMedRepo())

	cases := []struct {
		name string
		r    *TaskReminder
	}{
		{"missing task", &TaskReminder{UserID: uuid.New(), Title: "x", DueAt: time.Now()}},
		{"missing user", &TaskReminder{TaskID: uuid.New(), Title: "x", DueAt: time.Now()}},
		{"missing title", &TaskReminder{TaskID: uuid.New(), UserID: uuid.New(), DueAt: time.Now()}},
		{"missing due_at", &TaskReminder{TaskID: uuid.New(), UserID: uuid.New(), Title: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.CreateTaskReminder(context.Background(), tc.r); apperrors.CodeOf(err) != apperrors.CodeValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateTaskReminder_ForcesUnsent(t *testing.T) {
	svc := NewService(newMemTaskRepo(), newMemMedRepo())
	r := &TaskReminder{TaskID: uuid.New(), UserID: uuid.New(), Title: "x", DueAt: time.Now(), Sent: true}
	if err := svc.CreateTaskReminder(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Sent {
		t.Error("expected new reminder to start unsent")
	}
}

func TestCreateMedicationReminder_Validation(t *testing.T) {
	svc := NewService(newMemTaskRepo(), newMemMedRepo())
	base := func() *MedicationReminder {
		return &MedicationReminder{
			MedicationID: uuid.New(),
			UserID:       uuid.New(),
			Name:         "Lisinopril",
			TimesOfDay:   []string{"09:00", "21:00"},
			Enabled:      true,
		}
	}

	if err := svc.CreateMedicationReminder(context.Background(), base()); err != nil {
		t.Fatalf("expected valid reminder accepted, got %v", err)
	}

	bad := base()
	bad.TimesOfDay = nil
	if err := svc.CreateMedicationReminder(context.Background(), bad); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected validation error for empty times, got %v", err)
	}

	bad = base()
	bad.TimesOfDay = []string{"9am"}
	if err := svc.CreateMedicationReminder(context.Background(), bad); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected validation error for malformed time, got %v", err)
	}

	bad = base()
	bad.TimesOfDay = []string{"09:00", "09:00"}
	if err := svc.CreateMedicationReminder(context.Background(), bad); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected validation error for duplicate time, got %v", err)
	}
}

func TestUpcomingForUser_FiltersSent(t *testing.T) {
	tasks := newMemTaskRepo()
	svc := NewService(tasks, newMemMedRepo())
	userID := uuid.New()

	open := &TaskReminder{TaskID: uuid.New(), UserID: userID, Title: "open", DueAt: time.Now()}
	done := &TaskReminder{TaskID: uuid.New(), UserID: userID, Title: "done", DueAt: time.Now()}
	_ = svc.CreateTaskReminder(context.Background(), open)
	_ = svc.CreateTaskReminder(context.Background(), done)
	_, _ = tasks.ClaimSent(context.Background(), done.ID)

	upcoming, err := svc.UpcomingForUser(context.Background(), userID, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].Title != "open" {
		t.Errorf("expected only the unsent reminder, got %v", upcoming)
	}
}

func TestNextDue(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	next, ok := nextDue(now, []string{"09:00", "21:00"})
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	want := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	// All occurrences passed today: the earliest tomorrow wins.
	next, ok = nextDue(now, []string{"08:00", "12:00"})
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	want = time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	if _, ok := nextDue(now, nil); ok {
		t.Error("expected no occurrence for empty list")
	}
}
