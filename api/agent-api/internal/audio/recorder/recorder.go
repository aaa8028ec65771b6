// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.
package internal_recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

const (
	audioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	audioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	audioPCMFormat      = 1  // WAV PCM format tag

	// frameBacklog bounds the hand-off queue between the media path and the
	// timeline worker. ~5s of 20ms frames.
	frameBacklog = 256
)

// chunk is a recorded audio fragment placed at a specific position on the
// timeline. ByteOffset is the byte position relative to Start().
type chunk struct {
	ByteOffset int
	Data       []byte
	Track      internal_type.Track
}

// TimelineRecorder captures caller and agent audio on a shared wall-clock
// timeline. Frames are handed off through a bounded queue so Record never
// blocks the media path; under pressure frames are dropped with a warning.
type TimelineRecorder struct {
	logger commons.Logger

	mu        sync.Mutex
	startTime time.Time
	started   bool
	finalized bool
	chunks    []chunk
	// Per-track cursor: the byte position just past the last written byte on
	// each track. Caller audio arrives at real-time rate, so wall-clock
	// placement is correct. Agent (TTS) audio arrives in bursts — only the
	// first chunk after a gap anchors at wall-clock, the rest pace from the
	// cursor so playback is continuous.
	cursor [2]int
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time

	frames chan internal_type.Packet
	quit   chan struct{}
	done   chan struct{}
	stop   sync.Once
}

// NewTimelineRecorder returns a dual-track recorder at the engine rate.
func NewTimelineRecorder(logger commons.Logger) (internal_type.Recorder, error) {
	r := &TimelineRecorder{
		logger: logger,
		clock:  time.Now,
		frames: make(chan internal_type.Packet, frameBacklog),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Start begins the recording session. Both tracks share this start time.
func (r *TimelineRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

// Record queues one frame for timeline placement. Never blocks: a full
// backlog drops the frame.
func (r *TimelineRecorder) Record(_ context.Context, p internal_type.Packet) error {
	if len(p.Samples) == 0 {
		return nil
	}
	r.mu.Lock()
	finalized := r.finalized
	r.mu.Unlock()
	if finalized {
		return fmt.Errorf("recorder already persisted")
	}

	select {
	case r.frames <- p:
	default:
		r.logger.Warnw("recorder backlog full, dropping frame",
			"track", int(p.Track), "samples", len(p.Samples))
	}
	return nil
}

func (r *TimelineRecorder) run() {
	defer close(r.done)
	for {
		select {
		case p := <-r.frames:
			r.place(p)
		case <-r.quit:
			// Drain whatever arrived before Persist.
			for {
				select {
				case p := <-r.frames:
					r.place(p)
				default:
					return
				}
			}
		}
	}
}

// place positions one frame on its track. Caller frames go at their
// wall-clock offset; agent frames pace from the cursor while a burst is in
// flight.
func (r *TimelineRecorder) place(p internal_type.Packet) {
	data := pcmBytes(p.Samples)

	r.mu.Lock()
	defer r.mu.Unlock()

	at := p.At
	if at.IsZero() {
		at = r.clock()
	}
	wallOffset := 0
	if r.started && at.After(r.startTime) {
		wallOffset = durationBytes(at.Sub(r.startTime))
	}

	track := p.Track
	if track != internal_type.TrackCaller && track != internal_type.TrackAgent {
		track = internal_type.TrackCaller
	}

	var offset int
	switch track {
	case internal_type.TrackCaller:
		offset = wallOffset
		if r.cursor[track] > offset {
			offset = r.cursor[track]
		}
	case internal_type.TrackAgent:
		if r.cursor[track] > wallOffset {
			// Burst continuation: pace from cursor.
			offset = r.cursor[track]
		} else {
			// New agent segment: anchor at wall-clock.
			offset = wallOffset
		}
	}

	r.chunks = append(r.chunks, chunk{ByteOffset: offset, Data: data, Track: track})
	r.cursor[track] = offset + len(data)
}

// Persist stops the worker, renders both tracks and returns two WAV files
// spanning the full session. Gaps between chunks are silence.
func (r *TimelineRecorder) Persist() ([]byte, []byte, error) {
	r.stop.Do(func() { close(r.quit) })
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = true

	if len(r.chunks) == 0 {
		return nil, nil, fmt.Errorf("no audio chunks to persist")
	}

	sessionBytes := 0
	if r.started {
		sessionBytes = durationBytes(r.clock().Sub(r.startTime))
	}

	totalLen := sessionBytes
	for _, c := range r.chunks {
		if end := c.ByteOffset + len(c.Data); end > totalLen {
			totalLen = end
		}
	}

	callerPCM := make([]byte, totalLen)
	agentPCM := make([]byte, totalLen)

	callerAudioBytes := 0
	agentAudioBytes := 0
	for _, c := range r.chunks {
		dst := callerPCM
		if c.Track == internal_type.TrackAgent {
			dst = agentPCM
			agentAudioBytes += len(c.Data)
		} else {
			callerAudioBytes += len(c.Data)
		}
		copy(dst[c.ByteOffset:], c.Data)
	}

	r.logger.Infow("recording persisted",
		"caller_bytes", callerAudioBytes,
		"caller_seconds", float64(callerAudioBytes)/float64(bytesPerSecond()),
		"agent_bytes", agentAudioBytes,
		"agent_seconds", float64(agentAudioBytes)/float64(bytesPerSecond()),
		"total_bytes", totalLen,
		"chunks", len(r.chunks))

	callerWAV := createWAVFile(callerPCM)
	agentWAV := createWAVFile(agentPCM)
	return callerWAV, agentWAV, nil
}

func bytesPerSecond() int {
	return internal_type.EngineSampleRate * audioBytesPerSample
}

// durationBytes converts a wall-clock duration to a sample-aligned byte count.
func durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(bytesPerSecond()))
	return (raw / audioBytesPerSample) * audioBytesPerSample
}

func pcmBytes(samples []float32) []byte {
	ints := internal_pipeline.Float32ToInt16(samples)
	buf := make([]byte, len(ints)*audioBytesPerSample)
	for i, s := range ints {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func createWAVFile(pcmData []byte) []byte {
	var buf bytes.Buffer
	bps := bytesPerSecond()

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(audioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono per track
	binary.Write(&buf, binary.LittleEndian, uint32(internal_type.EngineSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(audioBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(audioBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}
