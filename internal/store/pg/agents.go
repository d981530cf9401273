package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// AgentStore implements store.AgentStore backed by Postgres.
type AgentStore struct {
	db *sql.DB
}

func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, device_id, name, description, agent_type, config, is_active, priority, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*store.Agent, error) {
	var a store.Agent
	var desc *string
	var cfg []byte
	if err := row.Scan(&a.ID, &a.DeviceID, &a.Name, &desc, &a.Type, &cfg, &a.IsActive, &a.Priority, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Description = derefStr(desc)
	a.Config = json.RawMessage(cfg)
	return &a, nil
}

func (s *AgentStore) Get(ctx context.Context, id uuid.UUID) (*store.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (s *AgentStore) ActiveForDevice(ctx context.Context, deviceID uuid.UUID) ([]store.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE device_id = $1 AND is_active = TRUE
		 ORDER BY priority DESC, name ASC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

func (s *AgentStore) ListForDevice(ctx context.Context, deviceID uuid.UUID) ([]store.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE device_id = $1 ORDER BY priority DESC, name ASC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows *sql.Rows) ([]store.Agent, error) {
	var result []store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *AgentStore) Create(ctx context.Context, a *store.Agent) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.Must(uuid.NewV7())
	}
	if len(a.Config) == 0 {
		a.Config = json.RawMessage(`{}`)
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, device_id, name, description, agent_type, config, is_active, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.DeviceID, a.Name, nilStr(a.Description), a.Type, []byte(a.Config), a.IsActive, a.Priority, now, now)
	return err
}

func (s *AgentStore) Update(ctx context.Context, a *store.Agent) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = $1, description = $2, agent_type = $3, config = $4,
		        is_active = $5, priority = $6, updated_at = $7
		 WHERE id = $8`,
		a.Name, nilStr(a.Description), a.Type, []byte(a.Config), a.IsActive, a.Priority, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *AgentStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
