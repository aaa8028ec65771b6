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

// timeNormalizer rewrites clock times to the spoken German form
// "14 Uhr 30"; full hours drop the minutes ("9 Uhr").
type timeNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

// NewTimeNormalizer expands HH:MM clock times.
func NewTimeNormalizer(logger commons.Logger) Normalizer {
	return &timeNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`),
	}
}

func (n *timeNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.pattern.FindStringSubmatch(match)
		hour, _ := strconv.Atoi(parts[1])
		minute, _ := strconv.Atoi(parts[2])
		if minute == 0 {
			return fmt.Sprintf("%d Uhr", hour)
		}
		return fmt.Sprintf("%d Uhr %d", hour, minute)
	})
}
