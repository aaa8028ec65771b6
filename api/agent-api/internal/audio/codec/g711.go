// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_codec

import (
	"github.com/zaf/g711"
)

// G.711 µ-law and A-law via the zaf/g711 reference tables (bit-exact ITU-T).
// The library works on little-endian 16-bit LPCM byte slices; the conversion
// helpers below bridge to []int16.

type muLawCodec struct{}

// NewMuLawCodec returns the G.711 µ-law codec (PCMU, 8 kHz).
func NewMuLawCodec() Codec { return muLawCodec{} }

func (muLawCodec) Name() string        { return NamePCMU }
func (muLawCodec) SampleRate() int     { return 8000 }
func (muLawCodec) BytesPerSample() int { return 1 }

func (muLawCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return []byte{}, nil
	}
	return g711.EncodeUlaw(pcmToLPCM(pcm)), nil
}

func (muLawCodec) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return []int16{}, nil
	}
	return lpcmToPCM(g711.DecodeUlaw(data)), nil
}

type aLawCodec struct{}

// NewALawCodec returns the G.711 A-law codec (PCMA, 8 kHz).
func NewALawCodec() Codec { return aLawCodec{} }

func (aLawCodec) Name() string        { return NamePCMA }
func (aLawCodec) SampleRate() int     { return 8000 }
func (aLawCodec) BytesPerSample() int { return 1 }

func (aLawCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return []byte{}, nil
	}
	return g711.EncodeAlaw(pcmToLPCM(pcm)), nil
}

func (aLawCodec) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return []int16{}, nil
	}
	return lpcmToPCM(g711.DecodeAlaw(data)), nil
}

func pcmToLPCM(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func lpcmToPCM(lpcm []byte) []int16 {
	out := make([]int16, len(lpcm)/2)
	for i := range out {
		out[i] = int16(lpcm[2*i]) | int16(lpcm[2*i+1])<<8
	}
	return out
}
