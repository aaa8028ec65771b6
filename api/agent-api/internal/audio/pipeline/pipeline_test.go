// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	"github.com/praxisvoice/pkg/commons"
)

func TestInboundMuLawFrame(t *testing.T) {
	p := New(internal_codec.NewMuLawCodec(), commons.NewNopLogger())

	// One 20ms µ-law silence frame at 8 kHz becomes 320 engine samples.
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF
	}
	samples, err := p.Inbound(frame)
	require.NoError(t, err)
	assert.Len(t, samples, 320)
	for _, s := range samples {
		assert.InDelta(t, 0.0, s, 1e-4)
	}
}

func TestOutboundMuLawFrame(t *testing.T) {
	p := New(internal_codec.NewMuLawCodec(), commons.NewNopLogger())

	samples := make([]float32, 320)
	data, err := p.Outbound(samples)
	require.NoError(t, err)
	assert.Len(t, data, 160)
	for _, b := range data {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestWidebandSkipsResampling(t *testing.T) {
	p := New(internal_codec.NewG722Codec(), commons.NewNopLogger())

	samples := make([]float32, 320)
	for i := range samples {
		samples[i] = 0.25
	}
	data, err := p.Outbound(samples)
	require.NoError(t, err)
	assert.Len(t, data, 640) // 320 samples x 2 bytes, no rate change

	back, err := p.Inbound(data)
	require.NoError(t, err)
	require.Len(t, back, 320)
	for _, s := range back {
		assert.InDelta(t, 0.25, s, 1e-3)
	}
}

func TestRoundTripPreservesSignalShape(t *testing.T) {
	p := New(internal_codec.NewALawCodec(), commons.NewNopLogger())

	in := make([]float32, 320)
	for i := range in {
		if i%2 == 0 {
			in[i] = 0.5
		} else {
			in[i] = -0.5
		}
	}
	data, err := p.Outbound(in)
	require.NoError(t, err)
	out, err := p.Inbound(data)
	require.NoError(t, err)
	require.Len(t, out, 320)

	// Downsample to 8k and back halves the bandwidth; the signal stays
	// bounded and alternating structure keeps overall energy nonzero.
	var energy float64
	for _, s := range out {
		assert.LessOrEqual(t, s, float32(1.0))
		assert.GreaterOrEqual(t, s, float32(-1.0))
		energy += float64(s) * float64(s)
	}
	assert.Greater(t, energy, 0.0)
}

func TestFloat32Int16Conversion(t *testing.T) {
	pcm := Float32ToInt16([]float32{0, 1.0, -1.0, 2.0, -2.0, 0.5})
	assert.Equal(t, int16(0), pcm[0])
	assert.Equal(t, int16(32767), pcm[1])
	assert.Equal(t, int16(-32767), pcm[2])
	assert.Equal(t, int16(32767), pcm[3])  // clipped
	assert.Equal(t, int16(-32768), pcm[4]) // clipped
	assert.Equal(t, int16(16383), pcm[5])

	f := Int16ToFloat32([]int16{0, 32767, -32768})
	assert.InDelta(t, 0.0, f[0], 1e-9)
	assert.InDelta(t, 0.99997, f[1], 1e-4)
	assert.InDelta(t, -1.0, f[2], 1e-9)
}
