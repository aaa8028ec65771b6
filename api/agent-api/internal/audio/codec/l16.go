// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_codec

type l16Codec struct {
	rate         int
	littleEndian bool
}

// NewL16Codec returns an uncompressed linear codec at the given rate.
// Wire order is big-endian per RFC 3551 §4.5.11, as used over RTP.
func NewL16Codec(rate int) Codec { return l16Codec{rate: rate} }

// NewL16LECodec returns the little-endian variant used by local PBX socket
// streams, which carry raw host-order samples rather than network order.
func NewL16LECodec(rate int) Codec { return l16Codec{rate: rate, littleEndian: true} }

func (c l16Codec) Name() string        { return NameL16 }
func (c l16Codec) SampleRate() int     { return c.rate }
func (c l16Codec) BytesPerSample() int { return 2 }

func (c l16Codec) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		if c.littleEndian {
			out[2*i] = byte(s)
			out[2*i+1] = byte(s >> 8)
		} else {
			out[2*i] = byte(s >> 8)
			out[2*i+1] = byte(s)
		}
	}
	return out, nil
}

func (c l16Codec) Decode(data []byte) ([]int16, error) {
	out := make([]int16, len(data)/2)
	for i := range out {
		if c.littleEndian {
			out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
		} else {
			out[i] = int16(data[2*i])<<8 | int16(data[2*i+1])
		}
	}
	return out, nil
}
