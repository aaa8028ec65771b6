// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.
package internal_default_assembler

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

const (
	// OptionsKeyMinimumRunes holds sentences shorter than this and speaks
	// them together with the next one, so the voice does not clip on
	// one-word confirmations.
	OptionsKeyMinimumRunes = "speaker.sentence.minimum"

	// OptionsKeyAbbreviations extends the built-in German abbreviation set
	// guarding periods that do not end a sentence.
	OptionsKeyAbbreviations = "speaker.sentence.abbreviations"
)

// Periods after these tokens stay inside the sentence. Lookup is lowercase
// with the trailing period included.
var sentenceAbbreviations = map[string]struct{}{
	"dr.": {}, "prof.": {}, "med.": {}, "hr.": {}, "fr.": {},
	"str.": {}, "nr.": {}, "tel.": {}, "ca.": {}, "bzw.": {},
	"usw.": {}, "ggf.": {}, "evtl.": {}, "inkl.": {}, "zzgl.": {},
	"min.": {}, "std.": {}, "mwst.": {}, "z.b.": {}, "d.h.": {}, "u.a.": {},
}

// defaultSentenceAssembler scans the growing token buffer for confirmed
// sentence boundaries. A terminator at the very end of the buffer is not a
// boundary yet; the next token decides ("15." may continue as "15. Januar").
type defaultSentenceAssembler struct {
	logger  commons.Logger
	buffer  []rune
	pending string // short sentence held back by the minimum-length option
	minimum int
	abbrev  map[string]struct{}
}

func NewDefaultSentenceAssembler(
	_ context.Context,
	logger commons.Logger,
	options utils.Option,
) (internal_type.SentenceAssembler, error) {
	assembler := &defaultSentenceAssembler{
		logger: logger,
		abbrev: sentenceAbbreviations,
	}
	if v, err := options.GetUint64(OptionsKeyMinimumRunes); err == nil {
		assembler.minimum = int(v)
	}
	if extra, err := options.GetStrings(OptionsKeyAbbreviations); err == nil && len(extra) > 0 {
		merged := make(map[string]struct{}, len(sentenceAbbreviations)+len(extra))
		for k := range sentenceAbbreviations {
			merged[k] = struct{}{}
		}
		for _, abbr := range extra {
			abbr = strings.ToLower(strings.TrimSpace(abbr))
			if abbr == "" {
				continue
			}
			if !strings.HasSuffix(abbr, ".") {
				abbr += "."
			}
			merged[abbr] = struct{}{}
		}
		assembler.abbrev = merged
	}
	return assembler, nil
}

func (a *defaultSentenceAssembler) Push(token string) []string {
	if token == "" {
		return nil
	}
	a.buffer = append(a.buffer, []rune(token)...)
	return a.drain()
}

func (a *defaultSentenceAssembler) Flush() string {
	rest := strings.TrimSpace(string(a.buffer))
	a.buffer = a.buffer[:0]
	if a.pending != "" {
		if rest == "" {
			rest = a.pending
		} else {
			rest = a.pending + " " + rest
		}
		a.pending = ""
	}
	return rest
}

func (a *defaultSentenceAssembler) Reset() {
	a.buffer = a.buffer[:0]
	a.pending = ""
}

// drain emits every sentence whose boundary the buffer already confirms.
func (a *defaultSentenceAssembler) drain() []string {
	var out []string
	start := 0
	for i := 0; i < len(a.buffer); i++ {
		r := a.buffer[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 >= len(a.buffer) {
			break // terminator at the end; wait for the next token
		}
		if !unicode.IsSpace(a.buffer[i+1]) {
			continue // "1.250", "z.B.", "ggf.!?" runs
		}
		if r == '.' && !a.periodEndsSentence(start, i) {
			continue
		}
		sentence := strings.TrimSpace(string(a.buffer[start : i+1]))
		if s := a.release(sentence); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if start > 0 {
		a.buffer = append(a.buffer[:0], a.buffer[start:]...)
	}
	return out
}

// periodEndsSentence applies the German guards. Ordinals ("am 15. Januar"),
// single-letter initials and known abbreviations keep their period; when in
// doubt the period is kept and the text goes out with the next confirmed
// boundary or the final Flush, which is never wrong, only later.
func (a *defaultSentenceAssembler) periodEndsSentence(start, i int) bool {
	w := i
	for w > start && !unicode.IsSpace(a.buffer[w-1]) {
		w--
	}
	word := string(a.buffer[w:i])
	if word == "" {
		return true
	}
	if strings.HasSuffix(word, ".") {
		return true // "Moment.." – closing an ellipsis
	}
	if isAllDigits(word) {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		return false // initials: "J. Brandt"
	}
	if _, ok := a.abbrev[strings.ToLower(word)+"."]; ok {
		return false
	}
	return true
}

// release applies the minimum-length hold: fragments below the minimum ride
// along with the next sentence.
func (a *defaultSentenceAssembler) release(sentence string) string {
	if a.pending != "" {
		sentence = a.pending + " " + sentence
		a.pending = ""
	}
	if a.minimum > 0 && utf8.RuneCountInString(sentence) < a.minimum {
		a.pending = sentence
		return ""
	}
	return sentence
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
