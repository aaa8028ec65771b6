// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_vad

import (
	"os"

	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

// Decision is the result of analyzing one audio frame.
type Decision struct {
	Active     bool
	Confidence float32
}

// VAD detects speech activity on 20ms engine frames (float32, 16 kHz).
type VAD interface {
	Process(samples []float32) (Decision, error)
	Reset()
	Close() error
}

// Config selects and tunes the detector backend.
type Config struct {
	Backend      string  `mapstructure:"backend"`       // simple | silero
	RMSThreshold float32 `mapstructure:"rms_threshold"` // simple backend
	ModelPath    string  `mapstructure:"model_path"`    // silero backend
	Threshold    float32 `mapstructure:"threshold"`     // silero backend
}

// DefaultConfig returns the energy detector tuning used in production.
func DefaultConfig() Config {
	return Config{
		Backend:      "simple",
		RMSThreshold: 0.02,
		Threshold:    0.5,
	}
}

// New builds the configured detector. A silero backend without a readable
// model falls back to the energy detector with a warning rather than failing
// call setup.
func New(cfg Config, logger commons.Logger) VAD {
	if cfg.Backend == "silero" {
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			logger.Warnw("silero model not readable, falling back to energy vad",
				"model_path", cfg.ModelPath, "error", err)
		} else if v, err := NewSileroVAD(cfg, logger); err != nil {
			logger.Warnw("silero init failed, falling back to energy vad", "error", err)
		} else {
			return v
		}
	}
	return NewSimpleVAD(cfg.RMSThreshold)
}

// SimpleVAD is a frame-energy detector. Confidence scales linearly up to
// five times the threshold.
type SimpleVAD struct {
	threshold float32
}

// NewSimpleVAD returns the energy detector; threshold 0 uses the default.
func NewSimpleVAD(threshold float32) *SimpleVAD {
	if threshold <= 0 {
		threshold = 0.02
	}
	return &SimpleVAD{threshold: threshold}
}

func (v *SimpleVAD) Process(samples []float32) (Decision, error) {
	rms := utils.RMSFloat32(samples)
	conf := rms / (5 * v.threshold)
	if conf > 1 {
		conf = 1
	}
	return Decision{Active: rms > v.threshold, Confidence: conf}, nil
}

func (v *SimpleVAD) Reset() {}

func (v *SimpleVAD) Close() error { return nil }

// Segmenter turns per-frame decisions into utterance boundaries: speech
// starts after minSpeechFrames consecutive active frames and ends after
// hangoverFrames consecutive silent ones.
type Segmenter struct {
	vad             VAD
	minSpeechFrames int
	hangoverFrames  int

	speaking  bool
	activeRun int
	silentRun int
	utterance []float32
}

// NewSegmenter wraps a detector with utterance boundary tracking. The
// defaults (3 active frames to open, 35 silent frames = 700ms to close)
// match conversational turn taking on 20ms frames.
func NewSegmenter(vad VAD, minSpeechFrames, hangoverFrames int) *Segmenter {
	if minSpeechFrames <= 0 {
		minSpeechFrames = 3
	}
	if hangoverFrames <= 0 {
		hangoverFrames = 35
	}
	return &Segmenter{vad: vad, minSpeechFrames: minSpeechFrames, hangoverFrames: hangoverFrames}
}

// Push feeds one frame. When an utterance completes, it is returned and the
// segmenter resets; otherwise nil.
func (s *Segmenter) Push(samples []float32) ([]float32, error) {
	d, err := s.vad.Process(samples)
	if err != nil {
		return nil, err
	}

	if d.Active {
		s.activeRun++
		s.silentRun = 0
	} else {
		s.silentRun++
		s.activeRun = 0
	}

	if !s.speaking {
		if s.activeRun >= s.minSpeechFrames {
			s.speaking = true
		}
		// Keep a short pre-roll so the utterance start is not clipped.
		s.utterance = append(s.utterance, samples...)
		if !s.speaking {
			if max := s.minSpeechFrames * len(samples) * 2; len(s.utterance) > max && max > 0 {
				s.utterance = s.utterance[len(s.utterance)-max:]
			}
		}
		return nil, nil
	}

	s.utterance = append(s.utterance, samples...)
	if s.silentRun >= s.hangoverFrames {
		utt := s.utterance
		s.reset()
		return utt, nil
	}
	return nil, nil
}

// Speaking reports whether an utterance is currently open.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Flush closes the open utterance without waiting for the silence hangover.
// Used when the transport signals an explicit end of audio. Returns nil when
// no utterance is open.
func (s *Segmenter) Flush() []float32 {
	if !s.speaking {
		s.reset()
		return nil
	}
	utt := s.utterance
	s.reset()
	return utt
}

func (s *Segmenter) reset() {
	s.speaking = false
	s.activeRun = 0
	s.silentRun = 0
	s.utterance = nil
	s.vad.Reset()
}
