// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.
package internal_type

import (
	"context"
	"time"
)

// EngineSampleRate is the internal processing rate: every transport frame is
// normalized to mono float32 at 16 kHz before it reaches the conversation
// engine, and agent audio is produced at this rate before transcoding back.
const EngineSampleRate = 16000

// FrameDuration is the packetization interval shared by all transports.
const FrameDuration = 20 * time.Millisecond

// AudioFormat describes a wire-side audio stream.
type AudioFormat struct {
	Codec      string `json:"codec"` // pcmu, pcma, g722, l16
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Track selects a recorder lane.
type Track int

const (
	TrackCaller Track = iota
	TrackAgent
)

// Packet is one frame of normalized audio placed on the recording timeline.
type Packet struct {
	Track   Track
	Samples []float32
	At      time.Time
}

// Recorder captures both sides of a call for later review.
type Recorder interface {
	// Start begins the recording timeline. All subsequent Record calls are
	// placed on a wall-clock timeline relative to this moment.
	Start()
	// Record appends one frame to its track. Implementations must not block
	// the media path; frames may be dropped under pressure.
	Record(context.Context, Packet) error
	// Persist finalizes the recording and returns caller and agent WAV data.
	Persist() ([]byte, []byte, error)
}
