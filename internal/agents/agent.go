package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"

	"github.com/inovadata/whatsman/internal/store"
)

// Response is the outcome of one agent processing one message. A nil NewState
// means the conversation state is unchanged; an empty Reply means the agent
// stayed silent.
type Response struct {
	Reply             string
	NewState          json.RawMessage
	CloseConversation bool
}

// Agent is the contract every agent variant implements. CanHandle must be
// side-effect free; Process may consult the prior conversation state but never
// mutates stores directly.
type Agent interface {
	CanHandle(msg *InboundMessage) bool
	Process(ctx context.Context, msg *InboundMessage, state json.RawMessage, conv *store.Conversation) (Response, error)
}

// GenerateOptions carries per-call model parameters for LLM completions.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// LLMClient abstracts the chat completion backend used by LLM-backed agents.
type LLMClient interface {
	GenerateResponse(ctx context.Context, systemPrompt, userMessage string, opts GenerateOptions) (string, error)
}

// Rand is the source of randomness for media selection. It is an interface so
// tests can pin the choice.
type Rand interface {
	Intn(n int) int
}

type mathRand struct{}

func (mathRand) Intn(n int) int { return rand.Intn(n) }

// DefaultRand selects media with math/rand.
var DefaultRand Rand = mathRand{}

// New instantiates the agent variant for a stored agent row. The type tag is
// a closed set; anything else is an error so the caller can skip the row.
func New(a *store.Agent, llm LLMClient, rnd Rand) (Agent, error) {
	if rnd == nil {
		rnd = DefaultRand
	}
	switch a.Type {
	case store.AgentTypeRuleBased:
		return NewRuleBased(a.Config, llm)
	case store.AgentTypeLangGraph:
		return NewLLM(a.Config, llm)
	case store.AgentTypeSubscriptionOptin:
		return NewSubscriptionOptin(a.Config)
	case store.AgentTypeVideoDistributor:
		return NewVideoDistributor(a.Config, rnd)
	default:
		return nil, fmt.Errorf("unknown agent type %q", a.Type)
	}
}

var templateVarRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// renderTemplate substitutes {{name}} placeholders with message fields.
func renderTemplate(tmpl string, msg *InboundMessage) string {
	return templateVarRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := templateVarRe.FindStringSubmatch(m)[1]
		return msg.Field(name)
	})
}
