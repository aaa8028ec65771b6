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

// urlNormalizer makes host names speakable: dots become "Punkt" so
// "praxis-brandt.de" reads as "praxis-brandt Punkt de".
type urlNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

// NewUrlNormalizer rewrites host names and e-mail domains for speech.
func NewUrlNormalizer(logger commons.Logger) Normalizer {
	return &urlNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`(?i)\b(?:[a-z0-9][a-z0-9\-]*\.)+(?:de|com|org|net|eu|at|ch|info)\b`),
	}
}

func (n *urlNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		return strings.ReplaceAll(match, ".", " Punkt ")
	})
}
