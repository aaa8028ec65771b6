// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_normalizers rewrites German text for speech synthesis.
// Numbers, dates, times, phone numbers, currency amounts and abbreviations
// come out of the LLM in written form; TTS voices read them more reliably
// once they are expanded to speakable words. Normalizers are pure string
// transforms chained in pipeline order.
package internal_normalizers

import (
	"strconv"

	ntw "moul.io/number-to-words"
)

// Normalizer is one step of the TTS text pipeline.
type Normalizer interface {
	Normalize(text string) string
}

var germanOnes = [...]string{
	"null", "eins", "zwei", "drei", "vier", "fünf", "sechs", "sieben",
	"acht", "neun", "zehn", "elf", "zwölf", "dreizehn", "vierzehn",
	"fünfzehn", "sechzehn", "siebzehn", "achtzehn", "neunzehn",
}

var germanTens = [...]string{
	"", "", "zwanzig", "dreißig", "vierzig", "fünfzig",
	"sechzig", "siebzig", "achtzig", "neunzig",
}

// germanSmallNumber spells 0–99; empty string outside that range.
func germanSmallNumber(n int) string {
	switch {
	case n < 0 || n > 99:
		return ""
	case n < 20:
		return germanOnes[n]
	}
	tens, ones := n/10, n%10
	if ones == 0 {
		return germanTens[tens]
	}
	unit := germanOnes[ones]
	if ones == 1 {
		unit = "ein" // einundzwanzig, not einsundzwanzig
	}
	return unit + "und" + germanTens[tens]
}

// germanNumberWords spells n in German. The 0–99 table keeps the common
// telephony range exact; larger amounts go through the number-to-words
// library, falling back to digits when it has no rendering.
func germanNumberWords(n int) string {
	if n >= 0 && n <= 99 {
		return germanSmallNumber(n)
	}
	if s := ntw.IntegerToDeDe(n); s != "" {
		return s
	}
	return strconv.Itoa(n)
}

// germanDigitWords spells a digit string digit by digit ("030" →
// "null drei null"), the way phone numbers are read out.
func germanDigitWords(digits string) string {
	out := make([]byte, 0, len(digits)*6)
	for i, r := range digits {
		if r < '0' || r > '9' {
			continue
		}
		if i > 0 && len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, germanOnes[r-'0']...)
	}
	return string(out)
}
