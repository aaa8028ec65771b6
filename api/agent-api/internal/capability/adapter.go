// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_capability

import (
	"context"
	"strings"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
)

const (
	promptLabelCaller = "Anrufer"
	promptLabelAgent  = "Agent"
)

// NewConversationalAdapter lets a single-turn completion model serve the
// conversational contract. The system prompt and history are flattened into
// one labelled prompt; streaming replays the completion as a single
// fragment, so sentence assembly downstream still works.
func NewConversationalAdapter(model SingleTurn) Conversational {
	return &singleTurnAdapter{model: model}
}

type singleTurnAdapter struct {
	model SingleTurn
}

func (a *singleTurnAdapter) Generate(
	ctx context.Context,
	system string,
	history []internal_type.Turn,
	opts GenerateOptions,
) (string, error) {
	return a.model.Complete(ctx, FlattenHistory(system, history), opts)
}

func (a *singleTurnAdapter) GenerateStream(
	ctx context.Context,
	system string,
	history []internal_type.Turn,
	opts GenerateOptions,
) (TokenStream, error) {
	text, err := a.Generate(ctx, system, history, opts)
	if err != nil {
		return nil, err
	}
	return NewSliceStream(text), nil
}

// FlattenHistory renders a turn history into a single completion prompt:
// the system text, the labelled dialogue, and a trailing agent label that
// positions the model to continue as the agent.
func FlattenHistory(system string, history []internal_type.Turn) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, turn := range history {
		switch turn.Role {
		case internal_type.RoleAgent:
			b.WriteString(promptLabelAgent)
		default:
			b.WriteString(promptLabelCaller)
		}
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString(promptLabelAgent)
	b.WriteString(":")
	return b.String()
}

// NewSliceStream returns a TokenStream that replays fixed fragments. Used
// by the single-turn adapter and by tests that script model output.
func NewSliceStream(fragments ...string) TokenStream {
	return &sliceStream{fragments: fragments}
}

type sliceStream struct {
	fragments []string
	pos       int
	current   string
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.fragments) {
		return false
	}
	s.current = s.fragments[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) Current() string { return s.current }
func (s *sliceStream) Err() error      { return nil }
func (s *sliceStream) Close() error    { return nil }
