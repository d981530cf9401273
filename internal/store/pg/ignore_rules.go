package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// IgnoreRuleStore implements store.IgnoreRuleStore backed by Postgres.
type IgnoreRuleStore struct {
	db *sql.DB
}

func NewIgnoreRuleStore(db *sql.DB) *IgnoreRuleStore {
	return &IgnoreRuleStore{db: db}
}

func (s *IgnoreRuleStore) ForDevice(ctx context.Context, deviceID uuid.UUID) ([]store.IgnoreRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, rule_type, pattern, reason, created_at
		 FROM ignore_rules WHERE device_id = $1 ORDER BY created_at ASC`,
		deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.IgnoreRule
	for rows.Next() {
		var r store.IgnoreRule
		var reason *string
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Type, &r.Pattern, &reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Reason = derefStr(reason)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *IgnoreRuleStore) Create(ctx context.Context, r *store.IgnoreRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.Must(uuid.NewV7())
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ignore_rules (id, device_id, rule_type, pattern, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.DeviceID, r.Type, r.Pattern, nilStr(r.Reason), r.CreatedAt)
	return err
}

func (s *IgnoreRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ignore_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
