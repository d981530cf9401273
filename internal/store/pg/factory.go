package pg

import (
	"database/sql"
	"fmt"

	"github.com/inovadata/whatsman/internal/store"
)

// NewStores creates all stores backed by Postgres.
func NewStores(dsn string) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Agents:        NewAgentStore(db),
		Conversations: NewConversationStore(db),
		Scheduled:     NewScheduledMessageStore(db),
		VideoJobs:     NewVideoJobStore(db),
		VideoHistory:  NewVideoHistoryStore(db),
		IgnoreRules:   NewIgnoreRuleStore(db),
		Contacts:      NewContactStore(db),
		Messages:      NewMessageStore(db),
		Devices:       NewDeviceStore(db),
	}, db, nil
}
