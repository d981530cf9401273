package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// VideoJobStore implements store.VideoJobStore backed by Postgres.
type VideoJobStore struct {
	db *sql.DB
}

func NewVideoJobStore(db *sql.DB) *VideoJobStore {
	return &VideoJobStore{db: db}
}

const videoJobColumns = `id, agent_id, last_run_at, next_run_at, created_at, updated_at`

func scanVideoJob(row interface{ Scan(...any) error }) (*store.VideoDistributionJob, error) {
	var j store.VideoDistributionJob
	if err := row.Scan(&j.ID, &j.AgentID, &j.LastRunAt, &j.NextRunAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *VideoJobStore) GetOrCreate(ctx context.Context, agentID uuid.UUID, initialNextRun time.Time) (*store.VideoDistributionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+videoJobColumns+` FROM video_distribution_jobs WHERE agent_id = $1`, agentID)
	j, err := scanVideoJob(row)
	if err == nil {
		return j, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now().UTC()
	j = &store.VideoDistributionJob{
		ID:        uuid.Must(uuid.NewV7()),
		AgentID:   agentID,
		NextRunAt: &initialNextRun,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO video_distribution_jobs (id, agent_id, next_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		j.ID, j.AgentID, initialNextRun, now, now)
	if err != nil {
		// agent_id is unique; a concurrent creator may have won the race.
		if isUniqueViolation(err) {
			row := s.db.QueryRowContext(ctx,
				`SELECT `+videoJobColumns+` FROM video_distribution_jobs WHERE agent_id = $1`, agentID)
			return scanVideoJob(row)
		}
		return nil, err
	}
	return j, nil
}

func (s *VideoJobStore) Due(ctx context.Context, now time.Time, limit int) ([]store.VideoDistributionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+videoJobColumns+` FROM video_distribution_jobs
		 WHERE next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.VideoDistributionJob
	for rows.Next() {
		j, err := scanVideoJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *j)
	}
	return result, rows.Err()
}

func (s *VideoJobStore) UpdateRunTimes(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE video_distribution_jobs
		 SET last_run_at = $1, next_run_at = $2, updated_at = $3
		 WHERE id = $4`,
		lastRun, nextRun, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *VideoJobStore) DeleteForAgent(ctx context.Context, agentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM video_distribution_jobs WHERE agent_id = $1`, agentID)
	return err
}
