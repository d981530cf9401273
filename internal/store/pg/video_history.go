package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VideoHistoryStore implements store.VideoHistoryStore backed by Postgres.
type VideoHistoryStore struct {
	db *sql.DB
}

func NewVideoHistoryStore(db *sql.DB) *VideoHistoryStore {
	return &VideoHistoryStore{db: db}
}

func (s *VideoHistoryStore) SentVideos(ctx context.Context, agentID, contactID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_filename FROM video_send_history
		 WHERE agent_id = $1 AND contact_id = $2`,
		agentID, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result = append(result, name)
	}
	return result, rows.Err()
}

// RecordSent appends a history row, optionally clearing the contact's cycle
// first. Reset and insert run in one transaction so two workers racing the
// same (agent, contact) pair cannot lose the reset or double-insert: the
// loser of the race hits the unique index and is treated as already recorded.
func (s *VideoHistoryStore) RecordSent(ctx context.Context, agentID, contactID uuid.UUID, filename string, reset bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if reset {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM video_send_history WHERE agent_id = $1 AND contact_id = $2`,
			agentID, contactID); err != nil {
			return fmt.Errorf("reset history: %w", err)
		}
	}

	// ON CONFLICT DO NOTHING keeps the insert idempotent without aborting the
	// transaction when a concurrent worker already recorded the same pick.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO video_send_history (id, agent_id, contact_id, video_filename, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id, contact_id, video_filename) DO NOTHING`,
		uuid.Must(uuid.NewV7()), agentID, contactID, filename, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}

	return tx.Commit()
}
