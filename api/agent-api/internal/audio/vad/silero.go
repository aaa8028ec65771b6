// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_vad

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// sileroWindow is the model's analysis window at 16 kHz (32ms). Engine frames
// are shorter than one window, so incoming audio is buffered until at least
// two windows are available before inference runs.
const sileroWindow = 512

// SileroVAD runs the Silero ONNX detector. The model reports segment
// boundaries rather than per-frame probabilities, so Confidence is binary:
// 1 inside an open speech segment, 0 outside.
type SileroVAD struct {
	mu       sync.Mutex
	detector *speech.Detector
	logger   commons.Logger

	buf    []float32
	active bool
	closed bool
}

// NewSileroVAD loads the ONNX model at cfg.ModelPath. A threshold outside
// (0, 1) uses the model default of 0.5.
func NewSileroVAD(cfg Config, logger commons.Logger) (*SileroVAD, error) {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           internal_type.EngineSampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("loading silero model: %w", err)
	}
	logger.Infow("silero vad ready", "model_path", cfg.ModelPath, "threshold", threshold)
	return &SileroVAD{detector: detector, logger: logger}, nil
}

func (v *SileroVAD) Process(samples []float32) (Decision, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return Decision{}, fmt.Errorf("silero vad: detector closed")
	}

	v.buf = append(v.buf, samples...)
	if len(v.buf) < 2*sileroWindow {
		return v.decision(), nil
	}

	segments, err := v.detector.Detect(v.buf)
	if err != nil {
		return Decision{}, fmt.Errorf("silero inference: %w", err)
	}
	// Detect consumes whole windows and skips the trailing remainder; hold
	// that remainder back for the next call. An exactly aligned buffer keeps
	// one full window so the detector never starves.
	keep := len(v.buf) % sileroWindow
	if keep == 0 {
		keep = sileroWindow
	}
	v.buf = append(v.buf[:0], v.buf[len(v.buf)-keep:]...)

	if len(segments) > 0 {
		v.active = segments[len(segments)-1].SpeechEndAt == 0
	}
	return v.decision(), nil
}

func (v *SileroVAD) decision() Decision {
	if v.active {
		return Decision{Active: true, Confidence: 1}
	}
	return Decision{}
}

// Reset clears buffered audio and the detector's segment state.
func (v *SileroVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.buf = v.buf[:0]
	v.active = false
	if err := v.detector.Reset(); err != nil {
		v.logger.Warnw("silero reset failed", "error", err)
	}
}

// Close releases the ONNX session. Safe to call more than once.
func (v *SileroVAD) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.buf = nil
	return v.detector.Destroy()
}
