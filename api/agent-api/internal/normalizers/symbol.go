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

// symbolNormalizer replaces symbols the voice would skip or misread.
// Runs last in the chain; collapses the whitespace the replacements leave.
type symbolNormalizer struct {
	logger     commons.Logger
	replacer   *strings.Replacer
	whitespace *regexp.Regexp
}

// NewSymbolNormalizer expands %, €, §, ° and friends to German words.
func NewSymbolNormalizer(logger commons.Logger) Normalizer {
	return &symbolNormalizer{
		logger: logger,
		replacer: strings.NewReplacer(
			"%", " Prozent",
			"€", " Euro",
			"§", " Paragraf ",
			"&", " und ",
			"@", " at ",
			"°C", " Grad Celsius",
			"℃", " Grad Celsius",
			"°", " Grad",
			"½", " einhalb ",
			"¼", " ein Viertel ",
			"¾", " drei Viertel ",
			"±", " plus minus ",
		),
		whitespace: regexp.MustCompile(`[ \t]+`),
	}
}

func (n *symbolNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	text = n.replacer.Replace(text)
	return strings.TrimSpace(n.whitespace.ReplaceAllString(text, " "))
}
