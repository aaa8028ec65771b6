// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_pipeline

import (
	"fmt"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_resample "github.com/praxisvoice/api/agent-api/internal/audio/resample"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// Pipeline converts between a call's wire codec and the engine format
// (mono float32 at 16 kHz). One pipeline per call; the codec is fixed at
// call setup from the negotiated payload type.
type Pipeline struct {
	codec  internal_codec.Codec
	logger commons.Logger
}

// New builds a pipeline over the negotiated codec.
func New(codec internal_codec.Codec, logger commons.Logger) *Pipeline {
	return &Pipeline{codec: codec, logger: logger}
}

// Codec returns the wire codec this pipeline transcodes.
func (p *Pipeline) Codec() internal_codec.Codec { return p.codec }

// Inbound decodes one wire payload into engine samples.
func (p *Pipeline) Inbound(payload []byte) ([]float32, error) {
	pcm, err := p.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.codec.Name(), err)
	}
	if rate := p.codec.SampleRate(); rate != internal_type.EngineSampleRate {
		pcm, err = internal_resample.Resample(pcm, rate, internal_type.EngineSampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample %d -> %d: %w", rate, internal_type.EngineSampleRate, err)
		}
	}
	return Int16ToFloat32(pcm), nil
}

// Outbound encodes engine samples into one wire payload.
func (p *Pipeline) Outbound(samples []float32) ([]byte, error) {
	pcm := Float32ToInt16(samples)
	if rate := p.codec.SampleRate(); rate != internal_type.EngineSampleRate {
		var err error
		pcm, err = internal_resample.Resample(pcm, internal_type.EngineSampleRate, rate)
		if err != nil {
			return nil, fmt.Errorf("resample %d -> %d: %w", internal_type.EngineSampleRate, rate, err)
		}
	}
	data, err := p.codec.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.codec.Name(), err)
	}
	return data, nil
}

// Int16ToFloat32 normalizes linear samples into [-1, 1).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 denormalizes engine samples, clipping outside [-1, 1].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767.0
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}
