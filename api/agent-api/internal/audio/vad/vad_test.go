// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisvoice/pkg/commons"
)

const frameSamples = 320 // 20ms at 16 kHz

func silentFrame() []float32 {
	return make([]float32, frameSamples)
}

func loudFrame() []float32 {
	frame := make([]float32, frameSamples)
	for i := range frame {
		frame[i] = 0.5
	}
	return frame
}

// =============================================================================
// Energy detector
// =============================================================================

func TestSimpleVADSilenceIsInactive(t *testing.T) {
	v := NewSimpleVAD(0.02)

	d, err := v.Process(silentFrame())
	require.NoError(t, err)
	assert.False(t, d.Active)
	assert.Zero(t, d.Confidence)
}

func TestSimpleVADSpeechIsActive(t *testing.T) {
	v := NewSimpleVAD(0.02)

	d, err := v.Process(loudFrame())
	require.NoError(t, err)
	assert.True(t, d.Active)
	assert.Equal(t, float32(1), d.Confidence, "confidence caps at 1")
}

func TestSimpleVADConfidenceScalesWithEnergy(t *testing.T) {
	v := NewSimpleVAD(0.02)

	frame := make([]float32, frameSamples)
	for i := range frame {
		frame[i] = 0.04 // 2x threshold, 40% of the 5x scale
	}
	d, err := v.Process(frame)
	require.NoError(t, err)
	assert.True(t, d.Active)
	assert.InDelta(t, 0.4, d.Confidence, 0.001)
}

func TestSimpleVADZeroThresholdUsesDefault(t *testing.T) {
	v := NewSimpleVAD(0)
	assert.Equal(t, float32(0.02), v.threshold)
}

// =============================================================================
// Factory fallback
// =============================================================================

func TestNewFallsBackWhenSileroModelMissing(t *testing.T) {
	cfg := Config{
		Backend:      "silero",
		RMSThreshold: 0.02,
		ModelPath:    "/nonexistent/silero_vad.onnx",
	}
	v := New(cfg, commons.NewNopLogger())
	defer v.Close()

	_, ok := v.(*SimpleVAD)
	assert.True(t, ok, "missing model must fall back to the energy detector")
}

func TestNewDefaultsToSimple(t *testing.T) {
	v := New(DefaultConfig(), commons.NewNopLogger())
	defer v.Close()

	_, ok := v.(*SimpleVAD)
	assert.True(t, ok)
}

// =============================================================================
// Segmenter
// =============================================================================

func TestSegmenterOpensAfterMinSpeechFrames(t *testing.T) {
	s := NewSegmenter(NewSimpleVAD(0.02), 3, 35)

	for i := 0; i < 2; i++ {
		utt, err := s.Push(loudFrame())
		require.NoError(t, err)
		assert.Nil(t, utt)
		assert.False(t, s.Speaking())
	}

	utt, err := s.Push(loudFrame())
	require.NoError(t, err)
	assert.Nil(t, utt)
	assert.True(t, s.Speaking(), "three consecutive active frames open an utterance")
}

func TestSegmenterClosesAfterHangoverAndReturnsUtterance(t *testing.T) {
	s := NewSegmenter(NewSimpleVAD(0.02), 3, 35)

	for i := 0; i < 3; i++ {
		_, err := s.Push(loudFrame())
		require.NoError(t, err)
	}
	require.True(t, s.Speaking())

	var utt []float32
	for i := 0; i < 35; i++ {
		var err error
		utt, err = s.Push(silentFrame())
		require.NoError(t, err)
		if i < 34 {
			assert.Nil(t, utt, "utterance must stay open through the hangover")
		}
	}

	require.NotNil(t, utt, "35 silent frames (700ms) close the utterance")
	assert.Len(t, utt, (3+35)*frameSamples)
	assert.False(t, s.Speaking(), "segmenter resets after emitting")
}

func TestSegmenterKeepsBoundedPreRoll(t *testing.T) {
	s := NewSegmenter(NewSimpleVAD(0.02), 3, 35)

	// Long silence before the caller starts talking must not leak into the
	// utterance beyond the short pre-roll window.
	for i := 0; i < 20; i++ {
		utt, err := s.Push(silentFrame())
		require.NoError(t, err)
		assert.Nil(t, utt)
	}
	for i := 0; i < 3; i++ {
		_, err := s.Push(loudFrame())
		require.NoError(t, err)
	}

	var utt []float32
	for i := 0; i < 35; i++ {
		var err error
		utt, err = s.Push(silentFrame())
		require.NoError(t, err)
	}

	require.NotNil(t, utt)
	preRoll := 3 * frameSamples * 2
	assert.Len(t, utt, preRoll+frameSamples+35*frameSamples)
}

func TestSegmenterShortBlipDoesNotOpen(t *testing.T) {
	s := NewSegmenter(NewSimpleVAD(0.02), 3, 35)

	_, err := s.Push(loudFrame())
	require.NoError(t, err)
	_, err = s.Push(silentFrame())
	require.NoError(t, err)
	_, err = s.Push(loudFrame())
	require.NoError(t, err)

	assert.False(t, s.Speaking(), "non-consecutive active frames must not open")
}
