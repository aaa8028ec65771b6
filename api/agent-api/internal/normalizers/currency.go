// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_normalizers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/praxisvoice/pkg/commons"
)

// currencyNormalizer expands Euro amounts to words. German writes
// "24,50 €" or "24,50 Euro"; thousands may be dot-grouped ("1.250 €").
type currencyNormalizer struct {
	logger     commons.Logger
	withCents  *regexp.Regexp
	wholeEuros *regexp.Regexp
}

// NewCurrencyNormalizer expands € amounts with and without cents.
func NewCurrencyNormalizer(logger commons.Logger) Normalizer {
	return &currencyNormalizer{
		logger:     logger,
		withCents:  regexp.MustCompile(`\b(\d{1,3}(?:\.\d{3})*|\d+),(\d{2})\s*(€|Euro\b)`),
		wholeEuros: regexp.MustCompile(`\b(\d{1,3}(?:\.\d{3})*|\d+)\s*€`),
	}
}

func (n *currencyNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	text = n.withCents.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.withCents.FindStringSubmatch(match)
		euros, err1 := strconv.Atoi(strings.ReplaceAll(parts[1], ".", ""))
		cents, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return match
		}
		if cents == 0 {
			return germanNumberWords(euros) + " Euro"
		}
		return germanNumberWords(euros) + " Euro und " + germanNumberWords(cents) + " Cent"
	})
	return n.wholeEuros.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.wholeEuros.FindStringSubmatch(match)
		euros, err := strconv.Atoi(strings.ReplaceAll(parts[1], ".", ""))
		if err != nil {
			return match
		}
		return germanNumberWords(euros) + " Euro"
	})
}
