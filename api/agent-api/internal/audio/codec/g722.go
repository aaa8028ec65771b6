// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_codec

// g722Codec is a transparent stand-in: wideband 16 kHz linear samples pass
// through unchanged instead of being sub-band ADPCM coded. Callers negotiate
// payload type 9 as usual; only the byte-level coding differs from a true
// G.722 endpoint. The registry logs a warning when it wires this codec.
type g722Codec struct {
	linear Codec
}

// NewG722Codec returns the G.722 placeholder codec at 16 kHz.
func NewG722Codec() Codec {
	return g722Codec{linear: NewL16LECodec(16000)}
}

func (g g722Codec) Name() string        { return NameG722 }
func (g g722Codec) SampleRate() int     { return 16000 }
func (g g722Codec) BytesPerSample() int { return 2 }

func (g g722Codec) Encode(pcm []int16) ([]byte, error) {
	return g.linear.Encode(pcm)
}

func (g g722Codec) Decode(data []byte) ([]int16, error) {
	return g.linear.Decode(data)
}
