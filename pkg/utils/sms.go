// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

// gsm7Alphabet is the GSM 03.38 default alphabet. Anything outside it forces
// UCS-2 encoding, which cuts the per-segment character budget in half.
var gsm7Alphabet = func() map[rune]struct{} {
	const chars = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞ ÆæßÉ" +
		"!\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§" +
		"¿abcdefghijklmnopqrstuvwxyzäöñüà"
	set := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		set[r] = struct{}{}
	}
	return set
}()

// SMSSegments reports how many parts a message body occupies on the wire:
// 160 GSM-7 characters fit a single SMS, 153 per part once concatenated,
// and 70/67 for UCS-2 bodies.
func SMSSegments(text string) int {
	runes := []rune(text)
	gsm7 := true
	for _, r := range runes {
		if _, ok := gsm7Alphabet[r]; !ok {
			gsm7 = false
			break
		}
	}
	n := len(runes)
	if gsm7 {
		if n <= 160 {
			return 1
		}
		return (n + 152) / 153
	}
	if n <= 70 {
		return 1
	}
	return (n + 66) / 67
}
