// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampleLengths(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		inRate  int
		outRate int
		out     int
	}{
		{"8k to 16k doubles", 160, 8000, 16000, 320},
		{"16k to 8k halves", 320, 16000, 8000, 160},
		{"same rate copies", 160, 8000, 8000, 160},
		{"16k to 48k triples", 320, 16000, 48000, 960},
		{"odd length floors", 3, 16000, 8000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]int16, tt.in)
			out, err := Resample(in, tt.inRate, tt.outRate)
			require.NoError(t, err)
			assert.Len(t, out, tt.out)
		})
	}
}

func TestResampleConstantSignal(t *testing.T) {
	in := make([]int16, 160)
	for i := range in {
		in[i] = 1000
	}
	out, err := Resample(in, 8000, 16000)
	require.NoError(t, err)
	for _, s := range out {
		assert.Equal(t, int16(1000), s)
	}
}

func TestResampleInterpolatesMidpoints(t *testing.T) {
	// Doubling a ramp puts interpolated samples halfway between neighbors.
	in := []int16{0, 100, 200, 300}
	out, err := Resample(in, 8000, 16000)
	require.NoError(t, err)
	require.Len(t, out, 8)

	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(50), out[1])
	assert.Equal(t, int16(100), out[2])
	assert.Equal(t, int16(150), out[3])
	assert.Equal(t, int16(200), out[4])
	assert.Equal(t, int16(250), out[5])
	assert.Equal(t, int16(300), out[6])
	// Past the last source pair the final sample is held.
	assert.Equal(t, int16(300), out[7])
}

func TestResampleDownsamplePicksAlternate(t *testing.T) {
	in := []int16{0, 10, 20, 30, 40, 50, 60, 70}
	out, err := Resample(in, 16000, 8000)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 20, 40, 60}, out)
}

func TestResampleUnsupportedRate(t *testing.T) {
	_, err := Resample([]int16{1, 2, 3}, 11025, 16000)
	assert.ErrorIs(t, err, ErrUnsupportedSampleRate)

	_, err = Resample([]int16{1, 2, 3}, 8000, 44100)
	assert.ErrorIs(t, err, ErrUnsupportedSampleRate)
}

func TestResampleEmptyInput(t *testing.T) {
	out, err := Resample(nil, 8000, 16000)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResampleFloat32(t *testing.T) {
	in := []float32{0, 0.1, 0.2, 0.3}
	out, err := ResampleFloat32(in, 8000, 16000)
	require.NoError(t, err)
	require.Len(t, out, 8)
	assert.InDelta(t, 0.05, out[1], 1e-6)
	assert.InDelta(t, 0.25, out[5], 1e-6)
}

func BenchmarkResample8kTo16k(b *testing.B) {
	in := make([]int16, 160)
	for i := range in {
		in[i] = int16(i * 13)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Resample(in, 8000, 16000)
	}
}
