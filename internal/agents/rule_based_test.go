package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func mustRuleBased(t *testing.T, cfg RuleBasedConfig, llm LLMClient) *RuleBased {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	a, err := NewRuleBased(raw, llm)
	if err != nil {
		t.Fatalf("NewRuleBased: %v", err)
	}
	return a
}

func boolPtr(b bool) *bool { return &b }

func TestRuleBased_MatchTypes(t *testing.T) {
	tests := []struct {
		name string
		rule RuleConfig
		body string
		want string
	}{
		{
			name: "contains matches substring",
			rule: RuleConfig{Pattern: "price", MatchType: "contains", Response: "our prices"},
			body: "what is the price list?",
			want: "our prices",
		},
		{
			name: "exact requires full match",
			rule: RuleConfig{Pattern: "hi", MatchType: "exact", Response: "hello"},
			body: "hi there",
			want: "",
		},
		{
			name: "exact full match replies",
			rule: RuleConfig{Pattern: "hi", MatchType: "exact", Response: "hello"},
			body: "hi",
			want: "hello",
		},
		{
			name: "starts_with anchors at start",
			rule: RuleConfig{Pattern: "order", MatchType: "starts_with", Response: "order desk"},
			body: "order #42 please",
			want: "order desk",
		},
		{
			name: "starts_with does not match mid-string",
			rule: RuleConfig{Pattern: "order", MatchType: "starts_with", Response: "order desk"},
			body: "my order #42",
			want: "",
		},
		{
			name: "ends_with anchors at end",
			rule: RuleConfig{Pattern: "thanks", MatchType: "ends_with", Response: "welcome"},
			body: "ok thanks",
			want: "welcome",
		},
		{
			name: "case insensitive by default",
			rule: RuleConfig{Pattern: "HELLO", MatchType: "contains", Response: "hey"},
			body: "well hello there",
			want: "hey",
		},
		{
			name: "exact ignores surrounding whitespace",
			rule: RuleConfig{Pattern: "yes", MatchType: "exact", Response: "confirmed"},
			body: "yes ",
			want: "confirmed",
		},
		{
			name: "ends_with ignores trailing whitespace",
			rule: RuleConfig{Pattern: "thanks", MatchType: "ends_with", Response: "welcome"},
			body: "ok thanks\n",
			want: "welcome",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{tt.rule}}, nil)
			resp, err := a.Process(context.Background(), &InboundMessage{Body: tt.body, Type: "text"}, nil, nil)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if resp.Reply != tt.want {
				t.Errorf("reply = %q, want %q", resp.Reply, tt.want)
			}
			if resp.NewState != nil || resp.CloseConversation {
				t.Errorf("rule-based agent must be stateless, got state=%s closed=%v", resp.NewState, resp.CloseConversation)
			}
		})
	}
}

func TestRuleBased_CaseSensitiveRule(t *testing.T) {
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "STOP", MatchType: "exact", Response: "stopped", CaseInsensitive: boolPtr(false)},
	}}, nil)

	resp, _ := a.Process(context.Background(), &InboundMessage{Body: "stop", Type: "text"}, nil, nil)
	if resp.Reply != "" {
		t.Errorf("lowercase body matched case-sensitive rule, reply = %q", resp.Reply)
	}
	resp, _ = a.Process(context.Background(), &InboundMessage{Body: "STOP", Type: "text"}, nil, nil)
	if resp.Reply != "stopped" {
		t.Errorf("reply = %q, want %q", resp.Reply, "stopped")
	}
}

func TestRuleBased_FirstMatchWins(t *testing.T) {
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "hello", MatchType: "contains", Response: "first"},
		{Pattern: "hello", MatchType: "contains", Response: "second"},
	}}, nil)

	resp, _ := a.Process(context.Background(), &InboundMessage{Body: "hello", Type: "text"}, nil, nil)
	if resp.Reply != "first" {
		t.Errorf("reply = %q, want first rule to win", resp.Reply)
	}
}

func TestRuleBased_DefaultResponse(t *testing.T) {
	a := mustRuleBased(t, RuleBasedConfig{
		Rules:           []RuleConfig{{Pattern: "never", MatchType: "exact", Response: "x"}},
		DefaultResponse: "sorry, {{pushName}}",
	}, nil)

	resp, _ := a.Process(context.Background(), &InboundMessage{Body: "something else", Type: "text", PushName: "Ana"}, nil, nil)
	if resp.Reply != "sorry, Ana" {
		t.Errorf("reply = %q, want rendered default response", resp.Reply)
	}
}

func TestRuleBased_NoMatchNoDefault(t *testing.T) {
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "never", MatchType: "exact", Response: "x"},
	}}, nil)

	resp, _ := a.Process(context.Background(), &InboundMessage{Body: "hello", Type: "text"}, nil, nil)
	if resp.Reply != "" {
		t.Errorf("reply = %q, want silence", resp.Reply)
	}
}

func TestRuleBased_TemplateSubstitution(t *testing.T) {
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "hi", MatchType: "contains", Response: "hi {{pushName}}, you said {{body}} ({{missing}})"},
	}}, nil)

	msg := &InboundMessage{Body: "hi", Type: "text", PushName: "Bob"}
	resp, _ := a.Process(context.Background(), msg, nil, nil)
	want := "hi Bob, you said hi ()"
	if resp.Reply != want {
		t.Errorf("reply = %q, want %q", resp.Reply, want)
	}
}

func TestRuleBased_InvalidPatternSkipped(t *testing.T) {
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "([bad", MatchType: "contains", Response: "broken"},
		{Pattern: "good", MatchType: "contains", Response: "ok"},
	}}, nil)

	if len(a.rules) != 1 {
		t.Fatalf("compiled %d rules, want the invalid one skipped", len(a.rules))
	}
	resp, _ := a.Process(context.Background(), &InboundMessage{Body: "good", Type: "text"}, nil, nil)
	if resp.Reply != "ok" {
		t.Errorf("reply = %q, want %q", resp.Reply, "ok")
	}
}

func TestRuleBased_CanHandle(t *testing.T) {
	tests := []struct {
		name         string
		msg          InboundMessage
		ignoreGroups *bool
		want         bool
	}{
		{name: "text message", msg: InboundMessage{Body: "hi", Type: "text"}, want: true},
		{name: "missing type defaults to text", msg: InboundMessage{Body: "hi"}, want: true},
		{name: "empty body", msg: InboundMessage{Type: "text"}, want: false},
		{name: "image message", msg: InboundMessage{Body: "cap", Type: "image"}, want: false},
		{name: "group ignored by default", msg: InboundMessage{Body: "hi", Type: "text", IsGroup: true}, want: false},
		{name: "group allowed when configured", msg: InboundMessage{Body: "hi", Type: "text", IsGroup: true}, ignoreGroups: boolPtr(false), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustRuleBased(t, RuleBasedConfig{IgnoreGroups: tt.ignoreGroups}, nil)
			if got := a.CanHandle(&tt.msg); got != tt.want {
				t.Errorf("CanHandle = %v, want %v", got, tt.want)
			}
		})
	}
}

type stubLLM struct {
	reply string
	err   error
	// captured inputs
	systemPrompt string
	userMessage  string
	opts         GenerateOptions
	calls        int
}

func (s *stubLLM) GenerateResponse(_ context.Context, systemPrompt, userMessage string, opts GenerateOptions) (string, error) {
	s.calls++
	s.systemPrompt = systemPrompt
	s.userMessage = userMessage
	s.opts = opts
	return s.reply, s.err
}

func TestRuleBased_LLMRule(t *testing.T) {
	llm := &stubLLM{reply: "generated"}
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "ask", MatchType: "contains", Response: "static", UseLLM: true, LLMPrompt: "answer {{body}}"},
	}}, llm)

	resp, _ := a.Process(context.Background(), &InboundMessage{Body: "ask me", Type: "text"}, nil, nil)
	if resp.Reply != "generated" {
		t.Errorf("reply = %q, want LLM output", resp.Reply)
	}
	if llm.systemPrompt != "answer ask me" {
		t.Errorf("systemPrompt = %q, want rendered rule prompt", llm.systemPrompt)
	}
	if llm.userMessage != "ask me" {
		t.Errorf("userMessage = %q, want message body", llm.userMessage)
	}
}

func TestRuleBased_LLMFailureFallsBackToStatic(t *testing.T) {
	llm := &stubLLM{err: errors.New("backend down")}
	a := mustRuleBased(t, RuleBasedConfig{Rules: []RuleConfig{
		{Pattern: "ask", MatchType: "contains", Response: "static answer", UseLLM: true, LLMPrompt: "p"},
	}}, llm)

	resp, err := a.Process(context.Background(), &InboundMessage{Body: "ask", Type: "text"}, nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Reply != "static answer" {
		t.Errorf("reply = %q, want static fallback", resp.Reply)
	}
}
