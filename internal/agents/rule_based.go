package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/inovadata/whatsman/internal/store"
)

// RuleConfig is one pattern/response pair in a rule-based agent.
type RuleConfig struct {
	Pattern         string `json:"pattern"`
	MatchType       string `json:"match_type"`
	Response        string `json:"response"`
	CaseInsensitive *bool  `json:"case_insensitive"`
	UseLLM          bool   `json:"use_llm"`
	LLMPrompt       string `json:"llm_prompt"`
}

// RuleBasedConfig is the persisted configuration of a rule-based agent.
type RuleBasedConfig struct {
	Rules           []RuleConfig `json:"rules"`
	DefaultResponse string       `json:"default_response"`
	IgnoreGroups    *bool        `json:"ignore_groups"`
}

type compiledRule struct {
	re        *regexp.Regexp
	response  string
	useLLM    bool
	llmPrompt string
}

// RuleBased answers messages by matching them against an ordered rule list.
// The first matching rule wins. It keeps no conversation state.
type RuleBased struct {
	rules           []compiledRule
	defaultResponse string
	ignoreGroups    bool
	llm             LLMClient
}

// NewRuleBased compiles the rule patterns up front. Rules with invalid regex
// patterns are skipped, not fatal, so one bad rule cannot disable the agent.
func NewRuleBased(raw json.RawMessage, llm LLMClient) (*RuleBased, error) {
	var cfg RuleBasedConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse rule_based config: %w", err)
		}
	}
	a := &RuleBased{
		defaultResponse: cfg.DefaultResponse,
		ignoreGroups:    cfg.IgnoreGroups == nil || *cfg.IgnoreGroups,
		llm:             llm,
	}
	for i, r := range cfg.Rules {
		pat := r.Pattern
		switch r.MatchType {
		case "exact":
			pat = "^(?:" + pat + ")$"
		case "starts_with":
			pat = "^(?:" + pat + ")"
		case "ends_with":
			pat = "(?:" + pat + ")$"
		}
		if r.CaseInsensitive == nil || *r.CaseInsensitive {
			pat = "(?i)" + pat
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			slog.Warn("skipping rule with invalid pattern", "index", i, "pattern", r.Pattern, "error", err)
			continue
		}
		a.rules = append(a.rules, compiledRule{
			re:        re,
			response:  r.Response,
			useLLM:    r.UseLLM,
			llmPrompt: r.LLMPrompt,
		})
	}
	return a, nil
}

func (a *RuleBased) CanHandle(msg *InboundMessage) bool {
	if msg.IsGroup && a.ignoreGroups {
		return false
	}
	return msg.MessageType() == "text" && msg.Body != ""
}

func (a *RuleBased) Process(ctx context.Context, msg *InboundMessage, _ json.RawMessage, _ *store.Conversation) (Response, error) {
	body := strings.TrimSpace(msg.Body)
	for _, r := range a.rules {
		if !r.re.MatchString(body) {
			continue
		}
		if r.useLLM && a.llm != nil {
			// The rendered rule prompt instructs the model; the contact's
			// message is the user turn.
			prompt := renderTemplate(r.llmPrompt, msg)
			reply, err := a.llm.GenerateResponse(ctx, prompt, body, GenerateOptions{})
			if err != nil {
				slog.Warn("rule LLM generation failed, using static response", "error", err)
			} else {
				return Response{Reply: reply}, nil
			}
		}
		return Response{Reply: renderTemplate(r.response, msg)}, nil
	}
	if a.defaultResponse != "" {
		return Response{Reply: renderTemplate(a.defaultResponse, msg)}, nil
	}
	return Response{}, nil
}
