// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisvoice/pkg/commons"
)

// =============================================================================
// µ-law
// =============================================================================

func TestMuLawKnownValues(t *testing.T) {
	c := NewMuLawCodec()

	// Canonical ITU-T points: 0xFF is positive zero, 0x00 / 0x80 are the
	// negative / positive extremes on the 16-bit scale.
	tests := []struct {
		name     string
		encoded  byte
		expected int16
	}{
		{"positive zero", 0xFF, 0},
		{"negative max", 0x00, -32124},
		{"positive max", 0x80, 32124},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm, err := c.Decode([]byte{tt.encoded})
			require.NoError(t, err)
			require.Len(t, pcm, 1)
			assert.Equal(t, tt.expected, pcm[0])
		})
	}
}

func TestMuLawSilenceEncodesToFF(t *testing.T) {
	c := NewMuLawCodec()
	data, err := c.Encode([]int16{0, 0, 0, 0})
	require.NoError(t, err)
	for _, b := range data {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestMuLawRoundTripQuantization(t *testing.T) {
	c := NewMuLawCodec()

	inputs := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000, 32767, -32768}
	encoded, err := c.Encode(inputs)
	require.NoError(t, err)
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(inputs))

	for i, in := range inputs {
		diff := int32(decoded[i]) - int32(in)
		if diff < 0 {
			diff = -diff
		}
		// µ-law quantization error grows with the segment; the top segment
		// step is 1024 and encode clips at 32635.
		assert.LessOrEqualf(t, diff, int32(1024), "sample %d: %d -> %d", i, in, decoded[i])
	}
}

// =============================================================================
// A-law
// =============================================================================

func TestALawKnownValues(t *testing.T) {
	c := NewALawCodec()

	// A-law carries no exact zero: 0xD5 is the smallest positive step,
	// 0x55 its negative mirror.
	pcm, err := c.Decode([]byte{0xD5, 0x55})
	require.NoError(t, err)
	require.Len(t, pcm, 2)
	assert.Equal(t, int16(8), pcm[0])
	assert.Equal(t, int16(-8), pcm[1])
}

func TestALawRoundTripQuantization(t *testing.T) {
	c := NewALawCodec()

	inputs := []int16{0, 16, -16, 500, -500, 4000, -4000, 20000, -20000, 32767, -32768}
	encoded, err := c.Encode(inputs)
	require.NoError(t, err)
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)

	for i, in := range inputs {
		diff := int32(decoded[i]) - int32(in)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, int32(1024), "sample %d: %d -> %d", i, in, decoded[i])
	}
}

// =============================================================================
// L16 and G.722 passthrough
// =============================================================================

func TestL16BigEndianWireOrder(t *testing.T) {
	c := NewL16Codec(16000)

	data, err := c.Encode([]int16{0x0102})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	pcm, err := c.Decode([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []int16{0x0102}, pcm)
}

func TestL16LittleEndianWireOrder(t *testing.T) {
	c := NewL16LECodec(8000)

	data, err := c.Encode([]int16{0x0102})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, data)

	pcm, err := c.Decode([]byte{0x02, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []int16{0x0102}, pcm)
}

func TestL16RoundTripExact(t *testing.T) {
	for _, c := range []Codec{NewL16Codec(16000), NewL16LECodec(16000)} {
		inputs := []int16{0, 1, -1, 32767, -32768, 0x1234, -0x1234}
		data, err := c.Encode(inputs)
		require.NoError(t, err)
		decoded, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, inputs, decoded)
	}
}

func TestG722PassthroughIsTransparent(t *testing.T) {
	c := NewG722Codec()
	assert.Equal(t, 16000, c.SampleRate())

	inputs := []int16{100, -100, 12345, -12345}
	data, err := c.Encode(inputs)
	require.NoError(t, err)
	decoded, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, inputs, decoded)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistryLookups(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())

	tests := []struct {
		name       string
		rate       int
		payload    uint8
		hasPayload bool
	}{
		{NamePCMU, 8000, PayloadTypePCMU, true},
		{NamePCMA, 8000, PayloadTypePCMA, true},
		{NameG722, 16000, PayloadTypeG722, true},
		{NameL16, 16000, PayloadTypeL16Mono, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.ByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, c.Name())
			assert.Equal(t, tt.rate, c.SampleRate())

			if tt.hasPayload {
				byPT, err := r.ByPayloadType(tt.payload)
				require.NoError(t, err)
				assert.Equal(t, tt.name, byPT.Name())
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())

	_, err := r.ByName("opus")
	assert.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = r.ByPayloadType(42)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestEmptyInput(t *testing.T) {
	for _, c := range []Codec{NewMuLawCodec(), NewALawCodec(), NewL16Codec(16000), NewG722Codec()} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Encode(nil)
			require.NoError(t, err)
			assert.Empty(t, data)

			pcm, err := c.Decode(nil)
			require.NoError(t, err)
			assert.Empty(t, pcm)
		})
	}
}

func TestFrameMaths(t *testing.T) {
	assert.Equal(t, 160, SamplesPerFrame(8000))
	assert.Equal(t, 320, SamplesPerFrame(16000))
	assert.Equal(t, 160, FrameBytes(NewMuLawCodec()))
	assert.Equal(t, 640, FrameBytes(NewL16Codec(16000)))
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkMuLawEncode(b *testing.B) {
	c := NewMuLawCodec()
	pcm := make([]int16, 160)
	for i := range pcm {
		pcm[i] = int16(i * 97)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Encode(pcm)
	}
}

func BenchmarkMuLawDecode(b *testing.B) {
	c := NewMuLawCodec()
	data := make([]byte, 160)
	for i := range data {
		data[i] = byte(i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Decode(data)
	}
}
