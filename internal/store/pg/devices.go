package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// DeviceStore implements store.DeviceStore backed by Postgres.
type DeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceColumns = `id, name, whatsapp_id, phone_number, is_connected, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (*store.Device, error) {
	var d store.Device
	var waID, phone *string
	if err := row.Scan(&d.ID, &d.Name, &waID, &phone, &d.IsConnected, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.WhatsAppID = derefStr(waID)
	d.PhoneNumber = derefStr(phone)
	return &d, nil
}

func (s *DeviceStore) Get(ctx context.Context, id uuid.UUID) (*store.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return d, err
}

func (s *DeviceStore) ByWhatsAppID(ctx context.Context, whatsappID string) (*store.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE whatsapp_id = $1`, whatsappID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return d, err
}

func (s *DeviceStore) SetConnected(ctx context.Context, id uuid.UUID, connected bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET is_connected = $1, updated_at = $2 WHERE id = $3`,
		connected, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
