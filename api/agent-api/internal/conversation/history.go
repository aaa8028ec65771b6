// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_conversation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// TokenCounter estimates prompt size for the history budget.
type TokenCounter interface {
	Count(text string) int
}

// perTurnOverhead accounts for role labels and separators a chat-formatted
// prompt adds around each turn's text.
const perTurnOverhead = 4

// NewTiktokenCounter returns a counter backed by the cl100k_base encoding.
// The encoding loads lazily on first use; when it cannot be loaded the
// counter degrades to a bytes/4 estimate.
func NewTiktokenCounter(logger commons.Logger) TokenCounter {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &tiktokenCounter{logger: logger}
}

type tiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger commons.Logger
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warnw("tiktoken encoding unavailable, using byte estimate", "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// trimToBudget drops the oldest turns until the estimated token total fits
// the budget. The most recent turn always survives so the model sees the
// current utterance.
func trimToBudget(turns []internal_type.Turn, budget int, counter TokenCounter) []internal_type.Turn {
	if budget <= 0 || counter == nil || len(turns) == 0 {
		return turns
	}

	total := 0
	costs := make([]int, len(turns))
	for i, t := range turns {
		costs[i] = counter.Count(t.Text) + perTurnOverhead
		total += costs[i]
	}

	start := 0
	for total > budget && start < len(turns)-1 {
		total -= costs[start]
		start++
	}
	return turns[start:]
}
