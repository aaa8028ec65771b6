// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

import "math"

// AverageFloat32 returns the arithmetic mean of values, 0 for an empty slice.
func AverageFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return float32(sum / float64(len(values)))
}

// RMSFloat32 returns the root mean square of values, 0 for an empty slice.
// Input is expected in [-1, 1] for audio energy measurements.
func RMSFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum / float64(len(values))))
}

// MaxAbsFloat32 returns the largest absolute value in values, 0 for an empty slice.
func MaxAbsFloat32(values []float32) float32 {
	var max float32
	for _, v := range values {
		if v < 0 {
			v = -v
		}
		if v > max {
			max = v
		}
	}
	return max
}
