package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// ConversationStore implements store.ConversationStore backed by Postgres.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const conversationColumns = `id, device_id, contact_id, status, agent_state, last_message_at, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*store.Conversation, error) {
	var c store.Conversation
	var state []byte
	if err := row.Scan(&c.ID, &c.DeviceID, &c.ContactID, &c.Status, &state, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(state) > 0 {
		c.AgentState = json.RawMessage(state)
	}
	return &c, nil
}

func (s *ConversationStore) ActiveForContact(ctx context.Context, deviceID, contactID uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE device_id = $1 AND contact_id = $2 AND status = $3
		 ORDER BY created_at DESC LIMIT 1`,
		deviceID, contactID, store.ConversationActive)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, deviceID, contactID uuid.UUID) (*store.Conversation, bool, error) {
	existing, err := s.ActiveForContact(ctx, deviceID, contactID)
	if err == nil {
		return existing, false, nil
	}
	if err != store.ErrNotFound {
		return nil, false, err
	}

	now := time.Now().UTC()
	c := &store.Conversation{
		ID:         uuid.Must(uuid.NewV7()),
		DeviceID:   deviceID,
		ContactID:  contactID,
		Status:     store.ConversationActive,
		AgentState: json.RawMessage(`{}`),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, device_id, contact_id, status, agent_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.DeviceID, c.ContactID, c.Status, []byte(c.AgentState), now, now)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *ConversationStore) UpdateAgentState(ctx context.Context, id uuid.UUID, state json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET agent_state = $1, updated_at = $2 WHERE id = $3`,
		[]byte(state), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) Close(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`,
		store.ConversationClosed, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) ListForDevice(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE device_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		deviceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}
