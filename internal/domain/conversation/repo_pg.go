package conversation

import (
	"context"
	"encoding/json"
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

// =========== Conversation Repository ===========

type conversationRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const convCols = `id, status, urgency, last_message_at, created_at, updated_at`

func (r *conversationRepoPG) scanConv(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Status, &c.Urgency, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *conversationRepoPG) Create(ctx context.Context, c *Conversation) error {
	c.ID = uuid.New()
	conn := r.conn(ctx)

	err := conn.QueryRow(ctx, `
		INSERT INTO conversation (id, status, urgency)
		VALUES ($1,$2,$3)
		RETURNING created_at, updated_at`,
		c.ID, c.Status, c.Urgency).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return db.MapError("create conversation", err)
	}

	for _, p := range c.Participants {
		_, err := conn.Exec(ctx, `
			INSERT INTO conversation_participant (conversation_id, user_id, role, display_name)
			VALUES ($1,$2,$3,$4)`,
			c.ID, p.UserID, p.Role, p.DisplayName)
		if err != nil {
			return db.MapError("add participant", err)
		}
	}
	return nil
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c, err := r.scanConv(r.conn(ctx).QueryRow(ctx,
		`SELECT `+convCols+` FROM conversation WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("get conversation", err)
	}
	if err := r.loadParticipants(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *conversationRepoPG) loadParticipants(ctx context.Context, c *Conversation) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT user_id, role, display_name
		FROM conversation_participant
		WHERE conversation_id = $1
		ORDER BY role, display_name`, c.ID)
	if err != nil {
		return db.MapError("load participants", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Role, &p.DisplayName); err != nil {
			return db.MapError("scan participant", err)
		}
		c.Participants = append(c.Participants, p)
	}
	return nil
}

func (r *conversationRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return db.MapError("update conversation status", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("update conversation status", pgx.ErrNoRows)
	}
	return nil
}

func (r *conversationRepoPG) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Conversation, int, error) {
	conn := r.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM conversation c
		JOIN conversation_participant p ON p.conversation_id = c.id
		WHERE p.user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.MapError("count conversations", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT c.id, c.status, c.urgency, c.last_message_at, c.created_at, c.updated_at
		FROM conversation c
		JOIN conversation_participant p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, db.MapError("list conversations", err)
	}
	defer rows.Close()

	var items []*Conversation
	for rows.Next() {
		c, err := r.scanConv(rows)
		if err != nil {
			return nil, 0, db.MapError("scan conversation", err)
		}
		items = append(items, c)
	}
	for _, c := range items {
		if err := r.loadParticipants(ctx, c); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const messageCols = `id, local_id, conversation_id, sender_id, content, attachments,
	created_at, delivered_at, read_at`

func (r *messageRepoPG) scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var attachments []byte
	err := row.Scan(&m.ID, &m.LocalID, &m.ConversationID, &m.SenderID, &m.Content,
		&attachments, &m.CreatedAt, &m.DeliveredAt, &m.ReadAt)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	m.Status = m.ResolveStatus()
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}

	// created_at comes back from the store: server time is the ordering
	// truth, not the optimistic client clock.
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, local_id, conversation_id, sender_id, content, attachments)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		m.ID, m.LocalID, m.ConversationID, m.SenderID, m.Content, attachments).
		Scan(&m.CreatedAt)
	if err != nil {
		return db.MapError("create message", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE conversation SET last_message_at = $2, updated_at = NOW()
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)`,
		m.ConversationID, m.CreatedAt)
	if err != nil {
		return db.MapError("touch conversation", err)
	}

	m.Status = StatusConfirmed
	return nil
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := r.scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM message WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("get message", err)
	}
	return m, nil
}

func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	conn := r.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, db.MapError("count messages", err)
	}

	// created_at ascending with id as a stable tiebreak so two messages
	// with identical timestamps never thrash position between loads.
	rows, err := conn.Query(ctx, `
		SELECT `+messageCols+`
		FROM message
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, db.MapError("list messages", err)
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, db.MapError("scan message", err)
		}
		items = append(items, m)
	}
	return items, total, nil
}

func (r *messageRepoPG) MarkDelivered(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET delivered_at = $4
		WHERE conversation_id = $1
		  AND id = ANY($2)
		  AND sender_id <> $3
		  AND delivered_at IS NULL`,
		conversationID, ids, readerID, at)
	if err != nil {
		return 0, db.MapError("mark delivered", err)
	}
	return tag.RowsAffected(), nil
}

func (r *messageRepoPG) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	// read implies delivered; backfill delivered_at in the same guarded
	// write so the timestamps stay monotonic.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET
			read_at = $4,
			delivered_at = COALESCE(delivered_at, $4)
		WHERE conversation_id = $1
		  AND id = ANY($2)
		  AND sender_id <> $3
		  AND read_at IS NULL`,
		conversationID, ids, readerID, at)
	if err != nil {
		return 0, db.MapError("mark read", err)
	}
	return tag.RowsAffected(), nil
}

func (r *messageRepoPG) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM message
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND read_at IS NULL`,
		conversationID, userID).Scan(&count)
	if err != nil {
		return 0, db.MapError("count unread", err)
	}
	return count, nil
}
