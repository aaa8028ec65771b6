// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// IsEmpty reports whether s contains no non-whitespace characters.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsValidPhoneNumber reports whether s looks like a dialable E.164-style
// number after stripping spaces, dashes and parentheses.
func IsValidPhoneNumber(s string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "/", "").Replace(s)
	return phonePattern.MatchString(cleaned)
}

// MaskPhoneNumber hides all but the last four digits of a phone number for
// log output. Shorter numbers are fully masked.
func MaskPhoneNumber(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// NormalizePhoneNumber converts a number to E.164. National formats get the
// German country code; formatting characters are stripped first.
func NormalizePhoneNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	switch {
	case strings.HasPrefix(phone, "0049"):
		return "+" + phone[2:]
	case strings.HasPrefix(phone, "+"):
		return phone
	case strings.HasPrefix(phone, "49"):
		return "+" + phone
	case strings.HasPrefix(phone, "0"):
		return "+49" + phone[1:]
	default:
		return "+49" + phone
	}
}
