// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_normalizers

import (
	"regexp"

	"github.com/praxisvoice/pkg/commons"
)

type abbreviationRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Multi-dot abbreviations first so "z.B." wins before any single-period
// rule could split it. Titles stay case-sensitive; German always
// capitalizes them.
var germanAbbreviations = []abbreviationRule{
	{regexp.MustCompile(`\bz\.\s?B\.`), "zum Beispiel"},
	{regexp.MustCompile(`\bd\.\s?h\.`), "das heißt"},
	{regexp.MustCompile(`\bu\.\s?a\.`), "unter anderem"},
	{regexp.MustCompile(`\bDr\.\s?med\.`), "Doktor der Medizin"},
	{regexp.MustCompile(`\bDr\.`), "Doktor"},
	{regexp.MustCompile(`\bProf\.`), "Professor"},
	{regexp.MustCompile(`\bHr\.`), "Herr"},
	{regexp.MustCompile(`\bFr\.`), "Frau"},
	// Street suffix has no word boundary ("Hauptstr."), so it needs its
	// own capture rule before the standalone form.
	{regexp.MustCompile(`(?i)(\pL)str\.`), "${1}straße"},
	{regexp.MustCompile(`\bStr\.`), "Straße"},
	{regexp.MustCompile(`\bNr\.`), "Nummer"},
	{regexp.MustCompile(`\bTel\.`), "Telefon"},
	{regexp.MustCompile(`\bca\.`), "circa"},
	{regexp.MustCompile(`\bbzw\.`), "beziehungsweise"},
	{regexp.MustCompile(`\busw\.`), "und so weiter"},
	{regexp.MustCompile(`\bggf\.`), "gegebenenfalls"},
	{regexp.MustCompile(`\bevtl\.`), "eventuell"},
	{regexp.MustCompile(`\binkl\.`), "inklusive"},
	{regexp.MustCompile(`\bzzgl\.`), "zuzüglich"},
	{regexp.MustCompile(`\bMin\.`), "Minuten"},
	{regexp.MustCompile(`\bStd\.`), "Stunden"},
	{regexp.MustCompile(`\bMwSt\.`), "Mehrwertsteuer"},
}

// abbreviationNormalizer expands written German abbreviations so the TTS
// voice does not spell them letter by letter.
type abbreviationNormalizer struct {
	logger commons.Logger
	rules  []abbreviationRule
}

// NewAbbreviationNormalizer expands common German and medical-practice
// abbreviations (Dr., Str., z.B., ...).
func NewAbbreviationNormalizer(logger commons.Logger) Normalizer {
	return &abbreviationNormalizer{logger: logger, rules: germanAbbreviations}
}

func (n *abbreviationNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	for _, rule := range n.rules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}
