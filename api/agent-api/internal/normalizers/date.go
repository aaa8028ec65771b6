// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_normalizers

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/praxisvoice/pkg/commons"
)

var germanMonths = [...]string{
	"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember",
}

// dateNormalizer rewrites written dates to the spoken German form
// "15. Januar 2024". The ordinal day keeps its period; TTS voices read
// "15. Januar" as "fünfzehnter Januar".
type dateNormalizer struct {
	logger commons.Logger
	dmy    *regexp.Regexp // 15.01.2024
	iso    *regexp.Regexp // 2024-01-15
}

// NewDateNormalizer expands DD.MM.YYYY and YYYY-MM-DD dates.
func NewDateNormalizer(logger commons.Logger) Normalizer {
	return &dateNormalizer{
		logger: logger,
		dmy:    regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`),
		iso:    regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
	}
}

func (n *dateNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	text = n.dmy.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.dmy.FindStringSubmatch(match)
		return spokenGermanDate(parts[1], parts[2], parts[3], match)
	})
	return n.iso.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.iso.FindStringSubmatch(match)
		return spokenGermanDate(parts[3], parts[2], parts[1], match)
	})
}

func spokenGermanDate(day, month, year, original string) string {
	d, _ := strconv.Atoi(day)
	m, _ := strconv.Atoi(month)
	if d < 1 || d > 31 || m < 1 || m > 12 {
		return original
	}
	return fmt.Sprintf("%d. %s %s", d, germanMonths[m-1], year)
}
