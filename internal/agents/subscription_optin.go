package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/inovadata/whatsman/internal/store"
)

// Opt-in conversation states persisted in the agent state payload.
const (
	optinStateInitial  = "initial"
	optinStateAwaiting = "awaiting_response"
	optinStateComplete = "completed"
)

// ScheduleSpec describes the recurring message series an opted-in contact
// should receive. It travels inside the agent state payload and is consumed
// by the schedule builder.
type ScheduleSpec struct {
	Days            int    `json:"days"`
	Time            string `json:"time"`
	Template        string `json:"template"`
	ContentType     string `json:"content_type"`
	MediaBucketName string `json:"media_bucket_name"`
	CaptionTemplate string `json:"caption_template"`
}

// SubscriptionOptinConfig is the persisted configuration of an opt-in agent.
type SubscriptionOptinConfig struct {
	PromptMessage   string `json:"prompt_message"`
	YesConfirmation string `json:"yes_confirmation"`
	NoConfirmation  string `json:"no_confirmation"`
	InvalidResponse string `json:"invalid_response"`
	ScheduleDays    int    `json:"schedule_days"`
	ScheduleTime    string `json:"schedule_time"`
	MessageTemplate string `json:"message_template"`
	ContentType     string `json:"content_type"`
	MediaBucketName string `json:"media_bucket_name"`
	CaptionTemplate string `json:"caption_template"`
	IgnoreGroups    *bool  `json:"ignore_groups"`
}

var optinYesPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(yes|y|sim|si|ja|oui|da)$`),
	regexp.MustCompile(`(?i)^(yep|yeah|yup|sure|ok|okay)$`),
	regexp.MustCompile(`(?i)^(quero|aceito|confirmo)$`),
}

var optinNoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(no|n|nao|não|nein|non|net)$`),
	regexp.MustCompile(`(?i)^(nope|nah|never)$`),
	regexp.MustCompile(`(?i)^(não quero|recusar|rejeitar)$`),
}

type optinState struct {
	State           string        `json:"state"`
	CreateSchedules bool          `json:"create_schedules,omitempty"`
	ScheduleConfig  *ScheduleSpec `json:"schedule_config,omitempty"`
}

// SubscriptionOptin walks a contact through a yes/no subscription dialog and,
// on consent, asks for a message series to be scheduled.
type SubscriptionOptin struct {
	cfg          SubscriptionOptinConfig
	ignoreGroups bool
}

func NewSubscriptionOptin(raw json.RawMessage) (*SubscriptionOptin, error) {
	var cfg SubscriptionOptinConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse subscription_optin config: %w", err)
		}
	}
	if cfg.PromptMessage == "" {
		cfg.PromptMessage = "Do you want to receive periodic messages? Reply YES or NO"
	}
	if cfg.YesConfirmation == "" {
		cfg.YesConfirmation = "Great! You'll receive daily updates for 30 days."
	}
	if cfg.NoConfirmation == "" {
		cfg.NoConfirmation = "No problem! You won't receive scheduled messages."
	}
	if cfg.InvalidResponse == "" {
		cfg.InvalidResponse = "Please reply with YES or NO."
	}
	if cfg.ScheduleDays == 0 {
		cfg.ScheduleDays = 30
	}
	if cfg.ScheduleTime == "" {
		cfg.ScheduleTime = "09:00"
	}
	if cfg.MessageTemplate == "" {
		cfg.MessageTemplate = "Good morning! Here's your daily update..."
	}
	if cfg.CaptionTemplate == "" {
		cfg.CaptionTemplate = "Check out today's content!"
	}
	return &SubscriptionOptin{
		cfg:          cfg,
		ignoreGroups: cfg.IgnoreGroups == nil || *cfg.IgnoreGroups,
	}, nil
}

func (a *SubscriptionOptin) CanHandle(msg *InboundMessage) bool {
	if msg.IsGroup && a.ignoreGroups {
		return false
	}
	return msg.MessageType() == "text" && msg.Body != ""
}

func (a *SubscriptionOptin) Process(_ context.Context, msg *InboundMessage, state json.RawMessage, conv *store.Conversation) (Response, error) {
	if conv != nil && conv.Status == store.ConversationClosed {
		return Response{}, nil
	}
	cur := optinState{State: optinStateInitial}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &cur); err != nil {
			return Response{}, fmt.Errorf("parse opt-in state: %w", err)
		}
		if cur.State == "" {
			cur.State = optinStateInitial
		}
	}

	switch cur.State {
	case optinStateInitial:
		next, err := json.Marshal(optinState{State: optinStateAwaiting})
		if err != nil {
			return Response{}, err
		}
		return Response{Reply: a.cfg.PromptMessage, NewState: next}, nil

	case optinStateAwaiting:
		body := strings.TrimSpace(msg.Body)
		switch {
		case matchAny(optinYesPatterns, body):
			next, err := json.Marshal(optinState{
				State:           optinStateComplete,
				CreateSchedules: true,
				ScheduleConfig: &ScheduleSpec{
					Days:            a.cfg.ScheduleDays,
					Time:            a.cfg.ScheduleTime,
					Template:        a.cfg.MessageTemplate,
					ContentType:     a.cfg.ContentType,
					MediaBucketName: a.cfg.MediaBucketName,
					CaptionTemplate: a.cfg.CaptionTemplate,
				},
			})
			if err != nil {
				return Response{}, err
			}
			return Response{Reply: a.cfg.YesConfirmation, NewState: next, CloseConversation: true}, nil
		case matchAny(optinNoPatterns, body):
			next, err := json.Marshal(optinState{State: optinStateComplete})
			if err != nil {
				return Response{}, err
			}
			return Response{Reply: a.cfg.NoConfirmation, NewState: next, CloseConversation: true}, nil
		default:
			return Response{Reply: a.cfg.InvalidResponse}, nil
		}

	default:
		return Response{}, nil
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
