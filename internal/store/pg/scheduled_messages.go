package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// ScheduledMessageStore implements store.ScheduledMessageStore backed by Postgres.
type ScheduledMessageStore struct {
	db *sql.DB
}

func NewScheduledMessageStore(db *sql.DB) *ScheduledMessageStore {
	return &ScheduledMessageStore{db: db}
}

const scheduledColumns = `id, device_id, contact_id, scheduled_at, sent_at, content_type, content, media_url, is_recurring, cron_expression, is_cancelled, created_at`

func scanScheduled(row interface{ Scan(...any) error }) (*store.ScheduledMessage, error) {
	var m store.ScheduledMessage
	var mediaURL, cronExpr *string
	if err := row.Scan(&m.ID, &m.DeviceID, &m.ContactID, &m.ScheduledAt, &m.SentAt,
		&m.ContentType, &m.Content, &mediaURL, &m.IsRecurring, &cronExpr, &m.IsCancelled, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.MediaURL = derefStr(mediaURL)
	m.CronExpression = derefStr(cronExpr)
	return &m, nil
}

func (s *ScheduledMessageStore) Get(ctx context.Context, id uuid.UUID) (*store.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_messages WHERE id = $1`, id)
	m, err := scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return m, err
}

func (s *ScheduledMessageStore) Create(ctx context.Context, m *store.ScheduledMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.ContentType == "" {
		m.ContentType = store.ContentTypeText
	}
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages
		 (id, device_id, contact_id, scheduled_at, content_type, content, media_url, is_recurring, cron_expression, is_cancelled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)`,
		m.ID, m.DeviceID, m.ContactID, m.ScheduledAt, m.ContentType, m.Content,
		nilStr(m.MediaURL), m.IsRecurring, nilStr(m.CronExpression), m.CreatedAt)
	return err
}

func (s *ScheduledMessageStore) Due(ctx context.Context, now time.Time, limit int) ([]store.ScheduledMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_messages
		 WHERE scheduled_at <= $1 AND sent_at IS NULL AND is_cancelled = FALSE
		 ORDER BY scheduled_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectScheduled(rows)
}

// MarkSent sets sent_at on a pending row. Rows already sent or cancelled are
// left untouched, which makes concurrent dispatchers idempotent.
func (s *ScheduledMessageStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET sent_at = $1
		 WHERE id = $2 AND sent_at IS NULL AND is_cancelled = FALSE`,
		at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ScheduledMessageStore) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET is_cancelled = TRUE
		 WHERE id = $1 AND sent_at IS NULL AND is_cancelled = FALSE`,
		id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ScheduledMessageStore) ListForDevice(ctx context.Context, deviceID uuid.UUID, pendingOnly bool, limit, offset int) ([]store.ScheduledMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + scheduledColumns + ` FROM scheduled_messages WHERE device_id = $1`
	if pendingOnly {
		q += ` AND sent_at IS NULL AND is_cancelled = FALSE`
	}
	q += ` ORDER BY scheduled_at ASC LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, q, deviceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func collectScheduled(rows *sql.Rows) ([]store.ScheduledMessage, error) {
	var result []store.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
