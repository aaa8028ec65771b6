// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/flosch/pongo2/v6"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// Reply is a policy's decision for one turn. Either Text or Stream carries
// the agent's words; Stream takes precedence when both are set.
type Reply struct {
	Text       string
	Stream     internal_capability.TokenStream
	EndCall    bool
	TransferTo string
}

// Policy decides what the agent says. The default inbound policy delegates
// to the language model; outbound campaigns run a scripted state machine.
// The engine owns history and passes a trimmed view whose final turn is the
// current utterance.
type Policy interface {
	Greeting(ctx context.Context) (Reply, error)
	Respond(ctx context.Context, history []internal_type.Turn, utterance string) (Reply, error)
}

// PolicyFactory builds the policy for one call at setup time. Inbound calls
// get the model-backed default; the dialer installs campaign policies.
type PolicyFactory func(info internal_type.CallInfo) (Policy, error)

// TimeOfDay returns the German salutation segment for t: Morgen before
// 12:00, Tag before 18:00, Abend after.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Morgen"
	case h < 18:
		return "Tag"
	default:
		return "Abend"
	}
}

// DefaultGreetingTemplate announces the assistant. Rendered with
// time_of_day and practice_name.
const DefaultGreetingTemplate = "Guten {{ time_of_day }}, {{ practice_name }}, hier spricht der Telefonassistent. Wie kann ich Ihnen helfen?"

// LLMPolicyConfig tunes the model-backed inbound policy.
type LLMPolicyConfig struct {
	SystemPrompt     string  `mapstructure:"system_prompt"`
	GreetingTemplate string  `mapstructure:"greeting_template"`
	PracticeName     string  `mapstructure:"practice_name"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float32 `mapstructure:"temperature"`
}

// LLMPolicy is the default inbound policy: every caller utterance goes to
// the conversational model with the trimmed history.
type LLMPolicy struct {
	llm      internal_capability.Conversational
	cfg      LLMPolicyConfig
	greeting *pongo2.Template
	clock    internal_capability.Clock
	logger   commons.Logger
}

func NewLLMPolicy(
	llm internal_capability.Conversational,
	cfg LLMPolicyConfig,
	clock internal_capability.Clock,
	logger commons.Logger,
) (*LLMPolicy, error) {
	if llm == nil {
		return nil, fmt.Errorf("conversation: llm policy requires a conversational model")
	}
	if cfg.GreetingTemplate == "" {
		cfg.GreetingTemplate = DefaultGreetingTemplate
	}
	if cfg.PracticeName == "" {
		cfg.PracticeName = "Praxis"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	tpl, err := pongo2.FromString(cfg.GreetingTemplate)
	if err != nil {
		return nil, fmt.Errorf("conversation: greeting template: %w", err)
	}
	if clock == nil {
		clock = internal_capability.SystemClock()
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &LLMPolicy{llm: llm, cfg: cfg, greeting: tpl, clock: clock, logger: logger}, nil
}

func (p *LLMPolicy) Greeting(_ context.Context) (Reply, error) {
	text, err := p.greeting.Execute(pongo2.Context{
		"time_of_day":   TimeOfDay(p.clock.Now()),
		"practice_name": p.cfg.PracticeName,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("conversation: render greeting: %w", err)
	}
	return Reply{Text: text}, nil
}

func (p *LLMPolicy) Respond(ctx context.Context, history []internal_type.Turn, _ string) (Reply, error) {
	stream, err := p.llm.GenerateStream(ctx, p.cfg.SystemPrompt, history, internal_capability.GenerateOptions{
		MaxTokens:           p.cfg.MaxTokens,
		Temperature:         p.cfg.Temperature,
		SentenceTerminators: ".!?",
	})
	if err != nil {
		return Reply{}, fmt.Errorf("conversation: generate: %w", err)
	}
	return Reply{Stream: stream}, nil
}
