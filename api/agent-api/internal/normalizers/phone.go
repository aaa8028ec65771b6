// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_normalizers

import (
	"regexp"
	"strings"

	"github.com/praxisvoice/pkg/commons"
)

// phoneNumberNormalizer spells phone numbers digit by digit, the way a
// receptionist reads them back. Groups separated by space, slash or hyphen
// become short pauses (commas) so the voice does not rush through.
type phoneNumberNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

// NewPhoneNumberNormalizer expands +49/0-prefixed numbers of 6+ digits.
func NewPhoneNumberNormalizer(logger commons.Logger) Normalizer {
	return &phoneNumberNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`(\+\d|0\d)[\d\s/\-]{4,}\d`),
	}
}

func (n *phoneNumberNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		digits := 0
		for _, r := range match {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 6 {
			return match
		}
		return spokenPhoneNumber(match)
	})
}

func spokenPhoneNumber(raw string) string {
	var groups []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			groups = append(groups, germanDigitWords(current.String()))
			current.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			current.WriteRune(r)
		case r == '+':
			groups = append(groups, "plus")
		default:
			flush() // group separator
		}
	}
	flush()
	return strings.Join(groups, ", ")
}
