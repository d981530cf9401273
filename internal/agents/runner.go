package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inovadata/whatsman/internal/store"
)

var tracer = otel.Tracer("whatsman/agents")

// ScheduleCreator materializes a subscription message series. Implemented by
// the schedule builder; an interface here so the runner stays testable.
type ScheduleCreator interface {
	CreateSubscriptionSchedules(ctx context.Context, deviceID, contactID, agentID uuid.UUID, spec ScheduleSpec) (int, error)
}

// runnerGate holds the config keys the runner itself enforces before an
// agent's own CanHandle runs.
type runnerGate struct {
	AllowedContacts []string `json:"allowed_contacts"`
	IgnoreGroups    *bool    `json:"ignore_groups"`
}

// Runner walks a device's active agents over an inbound message and returns
// the first non-empty reply. Ignore rules short-circuit everything; a single
// misbehaving agent is logged and skipped, never fatal for the chain.
type Runner struct {
	stores    *store.Stores
	llm       LLMClient
	rnd       Rand
	schedules ScheduleCreator
}

func NewRunner(stores *store.Stores, llm LLMClient, rnd Rand, schedules ScheduleCreator) *Runner {
	if rnd == nil {
		rnd = DefaultRand
	}
	return &Runner{stores: stores, llm: llm, rnd: rnd, schedules: schedules}
}

// Run processes one inbound message. contactID may be nil when the sender
// could not be resolved; stateful agents then run without persistence.
func (r *Runner) Run(ctx context.Context, deviceID uuid.UUID, msg *InboundMessage, contactID *uuid.UUID) (string, error) {
	ctx, span := tracer.Start(ctx, "agents.run")
	span.SetAttributes(attribute.String("device.id", deviceID.String()))
	defer span.End()

	rules, err := r.stores.IgnoreRules.ForDevice(ctx, deviceID)
	if err != nil {
		return "", fmt.Errorf("load ignore rules: %w", err)
	}
	if ShouldIgnore(rules, msg) {
		return "", nil
	}

	active, err := r.stores.Agents.ActiveForDevice(ctx, deviceID)
	if err != nil {
		return "", fmt.Errorf("load active agents: %w", err)
	}
	if len(active) == 0 {
		return "", nil
	}

	var conv *store.Conversation
	if contactID != nil {
		conv, err = r.stores.Conversations.ActiveForContact(ctx, deviceID, *contactID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("load conversation: %w", err)
		}
	}

	for i := range active {
		row := &active[i]
		if !r.gateAllows(row, msg, contactID) {
			continue
		}
		agent, err := New(row, r.llm, r.rnd)
		if err != nil {
			slog.Warn("skipping agent", "agent", row.ID, "name", row.Name, "error", err)
			continue
		}
		if !agent.CanHandle(msg) {
			continue
		}

		var state json.RawMessage
		if conv != nil {
			state = conv.AgentState
		}
		resp, err := agent.Process(ctx, msg, state, conv)
		if err != nil {
			slog.Warn("agent processing failed", "agent", row.ID, "name", row.Name, "error", err)
			continue
		}

		if resp.NewState != nil && contactID != nil {
			if conv == nil {
				conv, _, err = r.stores.Conversations.GetOrCreate(ctx, deviceID, *contactID)
				if err != nil {
					slog.Warn("conversation create failed", "agent", row.ID, "contact", *contactID, "error", err)
				}
			}
			if conv != nil {
				r.applyStateEffects(ctx, row, deviceID, *contactID, resp.NewState)
				if err := r.stores.Conversations.UpdateAgentState(ctx, conv.ID, resp.NewState); err != nil {
					slog.Warn("state persist failed", "conversation", conv.ID, "error", err)
				}
			}
		}
		if resp.CloseConversation && conv != nil {
			if err := r.stores.Conversations.Close(ctx, conv.ID); err != nil {
				slog.Warn("conversation close failed", "conversation", conv.ID, "error", err)
			}
		}
		if resp.Reply != "" {
			return resp.Reply, nil
		}
	}
	return "", nil
}

// applyStateEffects triggers schedule creation when an agent's new state asks
// for it. Failure is logged; the state itself is still persisted.
func (r *Runner) applyStateEffects(ctx context.Context, row *store.Agent, deviceID, contactID uuid.UUID, state json.RawMessage) {
	if r.schedules == nil {
		return
	}
	var effects struct {
		CreateSchedules bool          `json:"create_schedules"`
		ScheduleConfig  *ScheduleSpec `json:"schedule_config"`
	}
	if err := json.Unmarshal(state, &effects); err != nil || !effects.CreateSchedules || effects.ScheduleConfig == nil {
		return
	}
	n, err := r.schedules.CreateSubscriptionSchedules(ctx, deviceID, contactID, row.ID, *effects.ScheduleConfig)
	if err != nil {
		slog.Error("schedule creation failed", "agent", row.ID, "contact", contactID, "error", err)
		return
	}
	slog.Info("subscription schedules created", "agent", row.ID, "contact", contactID, "count", n)
}

func (r *Runner) gateAllows(row *store.Agent, msg *InboundMessage, contactID *uuid.UUID) bool {
	var gate runnerGate
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &gate); err != nil {
			slog.Warn("unreadable agent config", "agent", row.ID, "error", err)
			return false
		}
	}
	if msg.IsGroup && (gate.IgnoreGroups == nil || *gate.IgnoreGroups) {
		return false
	}
	if len(gate.AllowedContacts) == 0 {
		return true
	}
	// The whitelist holds contact ids. An unresolved sender falls through;
	// only a known contact outside the list is rejected.
	if contactID == nil {
		return true
	}
	id := contactID.String()
	for _, allowed := range gate.AllowedContacts {
		if allowed == id {
			return true
		}
	}
	return false
}
