// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_resample

import (
	"errors"
	"fmt"
)

// Linear-interpolation sample rate conversion for narrow/wideband telephony
// audio. Output length is always floor(len(in) * outRate / inRate) so frame
// sizes stay deterministic for the 20ms pipeline.

// ErrUnsupportedSampleRate is returned for rates outside the telephony set.
var ErrUnsupportedSampleRate = errors.New("unsupported sample rate")

var supportedRates = map[int]bool{
	8000:  true,
	16000: true,
	24000: true,
	48000: true,
}

func checkRates(inRate, outRate int) error {
	if !supportedRates[inRate] {
		return fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, inRate)
	}
	if !supportedRates[outRate] {
		return fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, outRate)
	}
	return nil
}

// Resample converts pcm from inRate to outRate.
func Resample(pcm []int16, inRate, outRate int) ([]int16, error) {
	if err := checkRates(inRate, outRate); err != nil {
		return nil, err
	}
	if inRate == outRate || len(pcm) == 0 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	outLen := len(pcm) * outRate / inRate
	out := make([]int16, outLen)
	ratio := float64(inRate) / float64(outRate)
	for i := 0; i < outLen; i++ {
		src := float64(i) * ratio
		i0 := int(src)
		if i0 >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := src - float64(i0)
		v := float64(pcm[i0])*(1-frac) + float64(pcm[i0+1])*frac
		out[i] = clampInt16(v)
	}
	return out, nil
}

// ResampleFloat32 converts normalized samples from inRate to outRate. Used on
// the engine-facing side of the pipeline where audio is already float.
func ResampleFloat32(samples []float32, inRate, outRate int) ([]float32, error) {
	if err := checkRates(inRate, outRate); err != nil {
		return nil, err
	}
	if inRate == outRate || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	outLen := len(samples) * outRate / inRate
	out := make([]float32, outLen)
	ratio := float64(inRate) / float64(outRate)
	for i := 0; i < outLen; i++ {
		src := float64(i) * ratio
		i0 := int(src)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := src - float64(i0)
		out[i] = float32(float64(samples[i0])*(1-frac) + float64(samples[i0+1])*frac)
	}
	return out, nil
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
