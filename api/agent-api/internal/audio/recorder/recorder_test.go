// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.
package internal_recorder

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRecorder(t *testing.T) (*TimelineRecorder, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	rec, err := NewTimelineRecorder(commons.NewNopLogger())
	require.NoError(t, err)
	tr := rec.(*TimelineRecorder)
	tr.mu.Lock()
	tr.clock = clk.Now
	tr.mu.Unlock()
	return tr, clk
}

func frame(val float32) []float32 {
	samples := make([]float32, 320) // 20ms at 16 kHz
	for i := range samples {
		samples[i] = val
	}
	return samples
}

func wavPCMData(wav []byte) []byte { return wav[44:] }

// =============================================================================
// Frame placement
// =============================================================================

func TestCallerFrameAtSessionStart(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()

	samples := frame(1.0)
	require.NoError(t, rec.Record(context.Background(), internal_type.Packet{
		Track:   internal_type.TrackCaller,
		Samples: samples,
	}))

	callerWAV, _, err := rec.Persist()
	require.NoError(t, err)
	assert.Equal(t, pcmBytes(samples), wavPCMData(callerWAV)[:640])
}

func TestCallerFrameAtWallClockOffset(t *testing.T) {
	rec, clk := newTestRecorder(t)
	rec.Start()
	clk.Advance(100 * time.Millisecond)

	require.NoError(t, rec.Record(context.Background(), internal_type.Packet{
		Track:   internal_type.TrackCaller,
		Samples: frame(1.0),
		At:      clk.Now(),
	}))

	callerWAV, _, err := rec.Persist()
	require.NoError(t, err)
	pcm := wavPCMData(callerWAV)

	// 100ms at 32000 bytes/s = 3200 bytes of leading silence.
	for i := 0; i < 3200; i++ {
		require.Zero(t, pcm[i], "expected silence before the frame at byte %d", i)
	}
	assert.Equal(t, pcmBytes(frame(1.0)), pcm[3200:3200+640])
}

func TestAgentBurstPacesFromCursor(t *testing.T) {
	rec, clk := newTestRecorder(t)
	rec.Start()

	// A TTS burst delivers several frames at the same instant; they must be
	// laid out back to back, not stacked on one offset.
	ctx := context.Background()
	values := []float32{0.25, 0.5, 0.75, 1.0}
	for _, v := range values {
		require.NoError(t, rec.Record(ctx, internal_type.Packet{
			Track:   internal_type.TrackAgent,
			Samples: frame(v),
			At:      clk.Now(),
		}))
	}

	_, agentWAV, err := rec.Persist()
	require.NoError(t, err)
	pcm := wavPCMData(agentWAV)

	for i, v := range values {
		expected := pcmBytes(frame(v))
		assert.Equal(t, expected, pcm[i*640:(i+1)*640], "frame %d out of place", i)
	}
}

func TestAgentAnchorsNewSegmentAtWallClock(t *testing.T) {
	rec, clk := newTestRecorder(t)
	rec.Start()
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, internal_type.Packet{
		Track:   internal_type.TrackAgent,
		Samples: frame(1.0),
		At:      clk.Now(),
	}))

	// Long pause, then a second segment: it must anchor at the new
	// wall-clock position, leaving silence in between.
	clk.Advance(200 * time.Millisecond)
	require.NoError(t, rec.Record(ctx, internal_type.Packet{
		Track:   internal_type.TrackAgent,
		Samples: frame(0.5),
		At:      clk.Now(),
	}))

	_, agentWAV, err := rec.Persist()
	require.NoError(t, err)
	pcm := wavPCMData(agentWAV)

	assert.Equal(t, pcmBytes(frame(1.0)), pcm[:640])
	for i := 640; i < 6400; i++ {
		require.Zero(t, pcm[i], "expected silence in the gap at byte %d", i)
	}
	assert.Equal(t, pcmBytes(frame(0.5)), pcm[6400:6400+640])
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestPersistEmptyReturnsError(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()
	_, _, err := rec.Persist()
	assert.Error(t, err)
}

func TestEmptyFramesAreIgnored(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, internal_type.Packet{Track: internal_type.TrackCaller}))
	require.NoError(t, rec.Record(ctx, internal_type.Packet{Track: internal_type.TrackAgent, Samples: []float32{}}))

	_, _, err := rec.Persist()
	assert.Error(t, err, "empty frames must not create chunks")
}

func TestRecordAfterPersistFails(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()
	require.NoError(t, rec.Record(context.Background(), internal_type.Packet{
		Track:   internal_type.TrackCaller,
		Samples: frame(1.0),
	}))

	_, _, err := rec.Persist()
	require.NoError(t, err)

	err = rec.Record(context.Background(), internal_type.Packet{
		Track:   internal_type.TrackCaller,
		Samples: frame(1.0),
	})
	assert.Error(t, err)
}

func TestBothTracksSpanSessionDuration(t *testing.T) {
	rec, clk := newTestRecorder(t)
	rec.Start()
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, internal_type.Packet{
		Track:   internal_type.TrackCaller,
		Samples: frame(1.0),
		At:      clk.Now(),
	}))

	clk.Advance(time.Second)
	callerWAV, agentWAV, err := rec.Persist()
	require.NoError(t, err)

	// 1s session at 32000 bytes/s on both tracks.
	assert.Len(t, wavPCMData(callerWAV), 32000)
	assert.Len(t, wavPCMData(agentWAV), 32000)
}

// =============================================================================
// WAV container
// =============================================================================

func TestWAVHeader(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()
	require.NoError(t, rec.Record(context.Background(), internal_type.Packet{
		Track:   internal_type.TrackCaller,
		Samples: frame(1.0),
	}))

	callerWAV, agentWAV, err := rec.Persist()
	require.NoError(t, err)

	for name, wav := range map[string][]byte{"caller": callerWAV, "agent": agentWAV} {
		require.GreaterOrEqual(t, len(wav), 44, "%s WAV too short", name)
		assert.Equal(t, "RIFF", string(wav[0:4]), name)
		assert.Equal(t, "WAVE", string(wav[8:12]), name)
		assert.Equal(t, uint32(internal_type.EngineSampleRate), binary.LittleEndian.Uint32(wav[24:28]), name)
		assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]), "%s bits per sample", name)
		assert.Equal(t, uint32(len(wav)-44), binary.LittleEndian.Uint32(wav[40:44]), "%s data length", name)
	}
}
