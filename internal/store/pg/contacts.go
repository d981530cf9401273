package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// ContactStore implements store.ContactStore backed by Postgres.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

const contactColumns = `id, device_id, phone_number, whatsapp_jid, push_name, is_group, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*store.Contact, error) {
	var c store.Contact
	var jid, pushName *string
	if err := row.Scan(&c.ID, &c.DeviceID, &c.PhoneNumber, &jid, &pushName, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.WhatsAppJID = derefStr(jid)
	c.PushName = derefStr(pushName)
	return &c, nil
}

func (s *ContactStore) Get(ctx context.Context, id uuid.UUID) (*store.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (s *ContactStore) GetOrCreate(ctx context.Context, c *store.Contact) (*store.Contact, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE device_id = $1 AND phone_number = $2`,
		c.DeviceID, c.PhoneNumber)
	existing, err := scanContact(row)
	if err == nil {
		// Refresh the push name when the gateway supplies a newer one.
		if c.PushName != "" && c.PushName != existing.PushName {
			_, _ = s.db.ExecContext(ctx,
				`UPDATE contacts SET push_name = $1, updated_at = $2 WHERE id = $3`,
				c.PushName, time.Now().UTC(), existing.ID)
			existing.PushName = c.PushName
		}
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	now := time.Now().UTC()
	created := &store.Contact{
		ID:          uuid.Must(uuid.NewV7()),
		DeviceID:    c.DeviceID,
		PhoneNumber: c.PhoneNumber,
		WhatsAppJID: c.WhatsAppJID,
		PushName:    c.PushName,
		IsGroup:     c.IsGroup,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, device_id, phone_number, whatsapp_jid, push_name, is_group, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		created.ID, created.DeviceID, created.PhoneNumber, nilStr(created.WhatsAppJID),
		nilStr(created.PushName), created.IsGroup, now, now)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}
