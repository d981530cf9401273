package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inovadata/whatsman/internal/store"
)

// LLMConfig is the persisted configuration of a conversational LLM agent
// (agent type "langgraph").
type LLMConfig struct {
	Model           string   `json:"model"`
	Temperature     *float64 `json:"temperature"`
	SystemPrompt    string   `json:"system_prompt"`
	MaxTokens       int      `json:"max_tokens"`
	IgnoreGroups    *bool    `json:"ignore_groups"`
	TriggerKeywords []string `json:"trigger_keywords"`
}

// LLM is a conversational agent that forwards the message to a chat
// completion backend. Generation failures keep the agent silent rather than
// erroring, so later agents in the chain still get a turn.
type LLM struct {
	model           string
	temperature     float64
	systemPrompt    string
	maxTokens       int
	ignoreGroups    bool
	triggerKeywords []string
	client          LLMClient
}

func NewLLM(raw json.RawMessage, client LLMClient) (*LLM, error) {
	var cfg LLMConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse langgraph config: %w", err)
		}
	}
	a := &LLM{
		model:        cfg.Model,
		temperature:  0.7,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		ignoreGroups: cfg.IgnoreGroups == nil || *cfg.IgnoreGroups,
		client:       client,
	}
	if a.model == "" {
		a.model = "gpt-4o-mini"
	}
	if cfg.Temperature != nil {
		a.temperature = *cfg.Temperature
	}
	if a.maxTokens == 0 {
		a.maxTokens = 500
	}
	for _, kw := range cfg.TriggerKeywords {
		a.triggerKeywords = append(a.triggerKeywords, strings.ToLower(kw))
	}
	return a, nil
}

func (a *LLM) CanHandle(msg *InboundMessage) bool {
	if msg.IsGroup && a.ignoreGroups {
		return false
	}
	if msg.MessageType() != "text" || msg.Body == "" {
		return false
	}
	if len(a.triggerKeywords) == 0 {
		return true
	}
	body := strings.ToLower(msg.Body)
	for _, kw := range a.triggerKeywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

func (a *LLM) Process(ctx context.Context, msg *InboundMessage, _ json.RawMessage, _ *store.Conversation) (Response, error) {
	if a.client == nil {
		return Response{}, nil
	}
	user := fmt.Sprintf("[%s]: %s", msg.PushName, msg.Body)
	reply, err := a.client.GenerateResponse(ctx, a.systemPrompt, user, GenerateOptions{
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		slog.Warn("LLM generation failed", "model", a.model, "error", err)
		return Response{}, nil
	}
	return Response{Reply: reply}, nil
}
