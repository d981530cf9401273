package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentType identifies one of the four agent variants. Dispatch over this tag
// happens once, at agent construction; unknown tags are rejected there.
type AgentType string

const (
	AgentTypeRuleBased         AgentType = "rule_based"
	AgentTypeLangGraph         AgentType = "langgraph"
	AgentTypeSubscriptionOptin AgentType = "subscription_optin"
	AgentTypeVideoDistributor  AgentType = "video_distributor"
)

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeRuleBased, AgentTypeLangGraph, AgentTypeSubscriptionOptin, AgentTypeVideoDistributor:
		return true
	}
	return false
}

// Agent is a configured message-handling unit owned by a device.
// Config is the type-specific JSON blob; each variant parses its own shape.
type Agent struct {
	ID          uuid.UUID
	DeviceID    uuid.UUID
	Name        string
	Description string
	Type        AgentType
	Config      json.RawMessage
	IsActive    bool
	Priority    int // higher runs first
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Conversation tracks a stateful agent session with one contact on one device.
// AgentState is opaque here; only the owning agent type interprets it.
type Conversation struct {
	ID            uuid.UUID
	DeviceID      uuid.UUID
	ContactID     uuid.UUID
	Status        string
	AgentState    json.RawMessage
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeAudio    = "audio"
	ContentTypeVideo    = "video"
	ContentTypeDocument = "document"
)

// ScheduledMessage is a message queued for future delivery. Once SentAt is set
// or IsCancelled is true the row is terminal; recurrence forks a new row.
type ScheduledMessage struct {
	ID             uuid.UUID
	DeviceID       uuid.UUID
	ContactID      uuid.UUID
	ScheduledAt    time.Time
	SentAt         *time.Time
	ContentType    string
	Content        string
	MediaURL       string
	IsRecurring    bool
	CronExpression string
	IsCancelled    bool
	CreatedAt      time.Time
}

// Pending reports whether the message is still eligible for dispatch.
func (m *ScheduledMessage) Pending() bool {
	return m.SentAt == nil && !m.IsCancelled
}

// VideoDistributionJob drives the periodic dispatch cadence for one
// video_distributor agent. One job per agent.
type VideoDistributionJob struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	LastRunAt *time.Time
	NextRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IgnoreRuleType selects which message field an ignore rule matches against.
type IgnoreRuleType string

const (
	IgnoreRuleContact IgnoreRuleType = "contact"
	IgnoreRuleGroup   IgnoreRuleType = "group"
	IgnoreRuleKeyword IgnoreRuleType = "keyword"
)

// IgnoreRule is a deny-list pattern suppressing agent processing.
type IgnoreRule struct {
	ID        uuid.UUID
	DeviceID  uuid.UUID
	Type      IgnoreRuleType
	Pattern   string
	Reason    string
	CreatedAt time.Time
}

// Device is a connected WhatsApp account.
type Device struct {
	ID          uuid.UUID
	Name        string
	WhatsAppID  string
	PhoneNumber string
	IsConnected bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contact is a WhatsApp peer (person or group) known to a device.
type Contact struct {
	ID          uuid.UUID
	DeviceID    uuid.UUID
	PhoneNumber string
	WhatsAppJID string
	PushName    string
	IsGroup     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Message is one recorded inbound or outbound message.
type Message struct {
	ID                uuid.UUID
	DeviceID          uuid.UUID
	ContactID         uuid.UUID
	WhatsAppMessageID string
	Direction         string
	Status            string
	ContentType       string
	Content           string
	MediaURL          string
	CreatedAt         time.Time
}
