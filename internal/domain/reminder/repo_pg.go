package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/carebridge/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Task Reminder Repository ===========

type taskReminderRepoPG struct{ pool *pgxpool.Pool }

func NewTaskReminderRepoPG(pool *pgxpool.Pool) TaskReminderRepository {
	return &taskReminderRepoPG{pool: pool}
}

func (r *taskReminderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const taskReminderCols = `id, task_id, user_id, title, due_at, sent, created_at, updated_at`

func (r *taskReminderRepoPG) scan(row pgx.Row) (*TaskReminder, error) {
	var t TaskReminder
	err := row.Scan(&t.ID, &t.TaskID, &t.UserID, &t.Title, &t.DueAt, &t.Sent, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *taskReminderRepoPG) Create(ctx context.Context, t *TaskReminder) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO task_reminder (id, task_id, user_id, title, due_at, sent)
		VALUES ($1,$2,$3,$4,$5,false)
		RETURNING created_at, updated_at`,
		t.ID, t.TaskID, t.UserID, t.Title, t.DueAt).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return db.MapError("create task reminder", err)
	}
	return nil
}

func (r *taskReminderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TaskReminder, error) {
	t, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+taskReminderCols+` FROM task_reminder WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("get task reminder", err)
	}
	return t, nil
}

func (r *taskReminderRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*TaskReminder, int, error) {
	conn := r.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM task_reminder WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.MapError("count task reminders", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT `+taskReminderCols+`
		FROM task_reminder
		WHERE user_id = $1
		ORDER BY due_at ASC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, db.MapError("list task reminders", err)
	}
	defer rows.Close()

	var items []*TaskReminder
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, 0, db.MapError("scan task reminder", err)
		}
		items = append(items, t)
	}
	return items, total, nil
}

func (r *taskReminderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM task_reminder WHERE id = $1`, id)
	if err != nil {
		return db.MapError("delete task reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("delete task reminder", pgx.ErrNoRows)
	}
	return nil
}

func (r *taskReminderRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*TaskReminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+taskReminderCols+`
		FROM task_reminder
		WHERE sent = false AND due_at <= $1
		ORDER BY due_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, db.MapError("list due reminders", err)
	}
	defer rows.Close()

	var items []*TaskReminder
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, db.MapError("scan due reminder", err)
		}
		items = append(items, t)
	}
	return items, nil
}

func (r *taskReminderRepoPG) ClaimSent(ctx context.Context, id uuid.UUID) (bool, error) {
	// The guard on sent = false is what keeps N concurrent workers to one
	// claim per row.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE task_reminder SET sent = true, updated_at = NOW()
		WHERE id = $1 AND sent = false`, id)
	if err != nil {
		return false, db.MapError("claim task reminder", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Medication Reminder Repository ===========

type medicationReminderRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationReminderRepoPG(pool *pgxpool.Pool) MedicationReminderRepository {
	return &medicationReminderRepoPG{pool: pool}
}

func (r *medicationReminderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const medReminderCols = `id, medication_id, user_id, name, times_of_day, enabled, created_at, updated_at`

func (r *medicationReminderRepoPG) scan(row pgx.Row) (*MedicationReminder, error) {
	var m MedicationReminder
	err := row.Scan(&m.ID, &m.MedicationID, &m.UserID, &m.Name, &m.TimesOfDay, &m.Enabled, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *medicationReminderRepoPG) Create(ctx context.Context, m *MedicationReminder) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_reminder (id, medication_id, user_id, name, times_of_day, enabled)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		m.ID, m.MedicationID, m.UserID, m.Name, m.TimesOfDay, m.Enabled).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return db.MapError("create medication reminder", err)
	}
	return nil
}

func (r *medicationReminderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationReminder, error) {
	m, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medReminderCols+` FROM medication_reminder WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("get medication reminder", err)
	}
	return m, nil
}

func (r *medicationReminderRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*MedicationReminder, int, error) {
	conn := r.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM medication_reminder WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.MapError("count medication reminders", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT `+medReminderCols+`
		FROM medication_reminder
		WHERE user_id = $1
		ORDER BY name ASC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, db.MapError("list medication reminders", err)
	}
	defer rows.Close()

	var items []*MedicationReminder
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, 0, db.MapError("scan medication reminder", err)
		}
		items = append(items, m)
	}
	return items, total, nil
}

func (r *medicationReminderRepoPG) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_reminder SET enabled = $2, updated_at = NOW()
		WHERE id = $1`, id, enabled)
	if err != nil {
		return db.MapError("set medication reminder enabled", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("set medication reminder enabled", pgx.ErrNoRows)
	}
	return nil
}

func (r *medicationReminderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medication_reminder WHERE id = $1`, id)
	if err != nil {
		return db.MapError("delete medication reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("delete medication reminder", pgx.ErrNoRows)
	}
	return nil
}

func (r *medicationReminderRepoPG) ListEnabled(ctx context.Context) ([]*MedicationReminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medReminderCols+`
		FROM medication_reminder
		WHERE enabled = true
		ORDER BY id`)
	if err != nil {
		return nil, db.MapError("list enabled medication reminders", err)
	}
	defer rows.Close()

	var items []*MedicationReminder
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, db.MapError("scan medication reminder", err)
		}
		items = append(items, m)
	}
	return items, nil
}

func (r *medicationReminderRepoPG) ClaimFire(ctx context.Context, medicationID uuid.UUID, timeOfDay, fireDate string) (bool, error) {
	// Per-day dedup key (medication, time of day, calendar date). The
	// conditional insert is the claim: zero rows affected means some worker
	// already fired this occurrence today.
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_reminder_fire (medication_id, time_of_day, fire_date)
		VALUES ($1,$2,$3)
		ON CONFLICT (medication_id, time_of_day, fire_date) DO NOTHING`,
		medicationID, timeOfDay, fireDate)
	if err != nil {
		return false, db.MapError("claim medication fire", err)
	}
	return tag.RowsAffected() == 1, nil
}
