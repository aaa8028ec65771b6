// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_type

import (
	"context"
	"strings"

	internal_normalizers "github.com/praxisvoice/api/agent-api/internal/normalizers"
	"github.com/praxisvoice/pkg/commons"
)

// =============================================================================
// Text Normalizer Interface
// =============================================================================

// TextNormalizer is the contract for provider-specific text preprocessing.
// Each TTS provider can implement it to handle its own requirements (SSML,
// pauses, pronunciation hints) on top of the shared German rewriting chain.
type TextNormalizer interface {
	// Normalize transforms text for optimal TTS output.
	Normalize(ctx context.Context, text string) string
}

// =============================================================================
// SSML Format Types
// =============================================================================

// SSMLFormat names the SSML dialect a TTS provider accepts.
type SSMLFormat string

const (
	SSMLFormatNone   SSMLFormat = "none"   // plain text only (Deepgram, OpenAI)
	SSMLFormatW3C    SSMLFormat = "w3c"    // standard W3C SSML
	SSMLFormatGoogle SSMLFormat = "google" // Google Cloud TTS SSML
)

// NormalizerConfig tunes the speech rewriting chain per deployment. A practice
// can extend the abbreviation guard list and the conjunctions used for
// breath-pause insertion without touching code.
type NormalizerConfig struct {

	// Abbreviations that end with a period but never end a sentence
	// (extends the built-in German set).
	Abbreviations []string

	// Conjunctions where long sentences may be split or paused.
	Conjunctions []string

	// PauseDurationMs is the SSML break length inserted at conjunctions
	// by providers that support it.
	PauseDurationMs uint64
}

func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		Abbreviations:   []string{},
		Conjunctions:    []string{"und", "oder", "aber", "sondern", "denn"},
		PauseDurationMs: 240,
	}
}

// DefaultNormalizerNames is the standard German chain in application order.
// Currency, date and time run before the bare-number pass so their digit
// groups are already rewritten; symbols run last to sweep leftovers.
func DefaultNormalizerNames() []string {
	return []string{"currency", "date", "time", "phone", "url", "abbreviation", "number", "symbol"}
}

func BuildNormalizerPipeline(logger commons.Logger, names []string) []internal_normalizers.Normalizer {
	normalizers := make([]internal_normalizers.Normalizer, 0, len(names))

	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		var normalizer internal_normalizers.Normalizer

		switch name {
		case "currency":
			normalizer = internal_normalizers.NewCurrencyNormalizer(logger)
		case "date":
			normalizer = internal_normalizers.NewDateNormalizer(logger)
		case "time":
			normalizer = internal_normalizers.NewTimeNormalizer(logger)
		case "phone":
			normalizer = internal_normalizers.NewPhoneNumberNormalizer(logger)
		case "url":
			normalizer = internal_normalizers.NewUrlNormalizer(logger)
		case "number", "number-to-word":
			normalizer = internal_normalizers.NewNumberToWordNormalizer(logger)
		case "abbreviation", "general":
			normalizer = internal_normalizers.NewAbbreviationNormalizer(logger)
		case "symbol":
			normalizer = internal_normalizers.NewSymbolNormalizer(logger)
		default:
			logger.Warnf("normalizer: unknown normalizer '%s', skipping", name)
			continue
		}
		normalizers = append(normalizers, normalizer)
	}
	return normalizers
}

// NewPipelineNormalizer wraps the named chain as a provider-independent
// TextNormalizer. Providers without their own preprocessing use this.
func NewPipelineNormalizer(logger commons.Logger, names []string) TextNormalizer {
	return &pipelineNormalizer{chain: BuildNormalizerPipeline(logger, names)}
}

type pipelineNormalizer struct {
	chain []internal_normalizers.Normalizer
}

func (p *pipelineNormalizer) Normalize(_ context.Context, text string) string {
	for _, n := range p.chain {
		text = n.Normalize(text)
	}
	return text
}
