// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_type

// SentenceAssembler buffers an LLM token stream and emits speakable
// sentences. Tokens arrive in fragments ("Ter", "min", " am"); the assembler
// accumulates them and releases each sentence as soon as its boundary is
// confirmed, so synthesis starts before the model finishes the reply.
type SentenceAssembler interface {
	// Push adds one token and returns any sentences it completed, in order.
	Push(token string) []string

	// Flush returns the trimmed remainder, if any, and clears the buffer.
	// Called when the token stream ends without a closing terminator.
	Flush() string

	// Reset discards all buffered text. Called when the caller interrupts
	// the agent and the pending reply must not be spoken.
	Reset()
}
