// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_normalizers

import (
	"regexp"
	"strconv"

	"github.com/praxisvoice/pkg/commons"
)

// numberToWordNormalizer spells standalone one- and two-digit numbers.
// Larger numbers (years, postal codes) read fine as digits and stay put.
type numberToWordNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

// NewNumberToWordNormalizer converts standalone 0–99 to German words.
func NewNumberToWordNormalizer(logger commons.Logger) Normalizer {
	return &numberToWordNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\b\d{1,2}\b`),
	}
}

func (n *numberToWordNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	matches := n.pattern.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}

	var out []byte
	last := 0
	for _, m := range matches {
		s, e := m[0], m[1]
		if numberIsPartOfLargerToken(text, s, e) {
			continue
		}
		v, err := strconv.Atoi(text[s:e])
		if err != nil {
			continue
		}
		out = append(out, text[last:s]...)
		out = append(out, germanSmallNumber(v)...)
		last = e
	}
	out = append(out, text[last:]...)
	return string(out)
}

// numberIsPartOfLargerToken reports whether the digits at [s,e) belong to a
// date, time, decimal or ordinal and must keep their written form.
func numberIsPartOfLargerToken(text string, s, e int) bool {
	if e < len(text) {
		switch text[e] {
		case '.':
			// Ordinal ("15. Januar") or date segment; a trailing period at
			// end of text is a sentence stop, not an ordinal.
			if e+1 < len(text) {
				return true
			}
		case ':':
			return true
		case ',':
			if e+1 < len(text) && isASCIIDigit(text[e+1]) {
				return true // decimal comma
			}
		}
	}
	if s >= 2 && isASCIIDigit(text[s-2]) {
		switch text[s-1] {
		case '.', ',', ':':
			return true // right half of 3.500 / 2,5 / 14:30
		}
	}
	return false
}

func isASCIIDigit(b byte) bool { return b >= '0' && b <= '9' }
