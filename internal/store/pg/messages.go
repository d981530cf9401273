package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// MessageStore implements store.MessageStore backed by Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, device_id, contact_id, whatsapp_message_id, direction, status, content_type, content, media_url, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var m store.Message
	var waID, mediaURL *string
	if err := row.Scan(&m.ID, &m.DeviceID, &m.ContactID, &waID, &m.Direction, &m.Status,
		&m.ContentType, &m.Content, &mediaURL, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.WhatsAppMessageID = derefStr(waID)
	m.MediaURL = derefStr(mediaURL)
	return &m, nil
}

func (s *MessageStore) Create(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.ContentType == "" {
		m.ContentType = store.ContentTypeText
	}
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, device_id, contact_id, whatsapp_message_id, direction, status, content_type, content, media_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.DeviceID, m.ContactID, nilStr(m.WhatsAppMessageID), m.Direction, m.Status,
		m.ContentType, m.Content, nilStr(m.MediaURL), m.CreatedAt)
	return err
}

func (s *MessageStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MessageStore) ByWhatsAppID(ctx context.Context, deviceID uuid.UUID, whatsappID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE device_id = $1 AND whatsapp_message_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		deviceID, whatsappID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return m, err
}
