package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AgentStore persists agent definitions.
type AgentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Agent, error)
	// ActiveForDevice returns active agents ordered by priority descending,
	// name ascending.
	ActiveForDevice(ctx context.Context, deviceID uuid.UUID) ([]Agent, error)
	ListForDevice(ctx context.Context, deviceID uuid.UUID) ([]Agent, error)
	Create(ctx context.Context, a *Agent) error
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConversationStore persists per-(device, contact) agent sessions.
type ConversationStore interface {
	// ActiveForContact returns the most recent active conversation, or
	// ErrNotFound if the contact has none.
	ActiveForContact(ctx context.Context, deviceID, contactID uuid.UUID) (*Conversation, error)
	// GetOrCreate returns the active conversation, creating one if missing.
	// The second result is true when a new row was created.
	GetOrCreate(ctx context.Context, deviceID, contactID uuid.UUID) (*Conversation, bool, error)
	UpdateAgentState(ctx context.Context, id uuid.UUID, state json.RawMessage) error
	Close(ctx context.Context, id uuid.UUID) error
	ListForDevice(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]Conversation, error)
}

// ScheduledMessageStore persists queued deliveries.
type ScheduledMessageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)
	Create(ctx context.Context, m *ScheduledMessage) error
	// Due returns pending messages with scheduledAt <= now, soonest first.
	Due(ctx context.Context, now time.Time, limit int) ([]ScheduledMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	Cancel(ctx context.Context, id uuid.UUID) error
	ListForDevice(ctx context.Context, deviceID uuid.UUID, pendingOnly bool, limit, offset int) ([]ScheduledMessage, error)
}

// VideoJobStore persists the cadence state of video_distributor agents.
type VideoJobStore interface {
	GetOrCreate(ctx context.Context, agentID uuid.UUID, initialNextRun time.Time) (*VideoDistributionJob, error)
	// Due returns jobs with a non-null nextRunAt <= now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]VideoDistributionJob, error)
	UpdateRunTimes(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error
	DeleteForAgent(ctx context.Context, agentID uuid.UUID) error
}

// VideoHistoryStore is the append-only ledger of media sent per
// (agent, contact). A unique index on (agent, contact, filename) guards
// against duplicate sends within one cycle.
type VideoHistoryStore interface {
	SentVideos(ctx context.Context, agentID, contactID uuid.UUID) ([]string, error)
	// RecordSent appends a history row. When reset is true the contact's
	// existing rows for the agent are deleted first, in the same transaction,
	// so a cycle restart cannot race itself into a duplicate-key failure.
	RecordSent(ctx context.Context, agentID, contactID uuid.UUID, filename string, reset bool) error
}

// IgnoreRuleStore persists deny-list rules.
type IgnoreRuleStore interface {
	ForDevice(ctx context.Context, deviceID uuid.UUID) ([]IgnoreRule, error)
	Create(ctx context.Context, r *IgnoreRule) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ContactStore persists WhatsApp peers.
type ContactStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Contact, error)
	// GetOrCreate looks a contact up by phone number on a device, creating it
	// with the given attributes if missing.
	GetOrCreate(ctx context.Context, c *Contact) (*Contact, bool, error)
}

// MessageStore records inbound and outbound message traffic.
type MessageStore interface {
	Create(ctx context.Context, m *Message) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// ByWhatsAppID resolves a message by the gateway's message id, used for
	// delivery ack correlation.
	ByWhatsAppID(ctx context.Context, deviceID uuid.UUID, whatsappID string) (*Message, error)
}

// DeviceStore persists WhatsApp accounts.
type DeviceStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Device, error)
	ByWhatsAppID(ctx context.Context, whatsappID string) (*Device, error)
	SetConnected(ctx context.Context, id uuid.UUID, connected bool) error
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Agents        AgentStore
	Conversations ConversationStore
	Scheduled     ScheduledMessageStore
	VideoJobs     VideoJobStore
	VideoHistory  VideoHistoryStore
	IgnoreRules   IgnoreRuleStore
	Contacts      ContactStore
	Messages      MessageStore
	Devices       DeviceStore
}
