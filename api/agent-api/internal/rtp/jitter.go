// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_rtp

import (
	"encoding/binary"
	"sync"
	"time"
)

// maxConcealFrames caps how much of a loss gap is filled with silence per
// read; longer gaps sound better cut than padded.
const maxConcealFrames = 5

// JitterBufferConfig tunes the receive-side buffer.
type JitterBufferConfig struct {
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	TargetDelay time.Duration `mapstructure:"target_delay"`
	PacketTime  time.Duration `mapstructure:"packet_time"`
	Capacity    int           `mapstructure:"capacity"`
	Adaptive    bool          `mapstructure:"adaptive"`
}

// DefaultJitterBufferConfig matches wide-area SIP trunk conditions.
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{
		MinDelay:    40 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		TargetDelay: 100 * time.Millisecond,
		PacketTime:  20 * time.Millisecond,
		Capacity:    100,
		Adaptive:    true,
	}
}

// JitterStats is a snapshot of buffer health.
type JitterStats struct {
	PacketsReceived uint64
	PacketsLost     uint64
	Duplicates      uint64
	Late            uint64
	Underruns       uint64
	Overruns        uint64
	Buffered        int
	BufferDelay     time.Duration
	MaxJitter       time.Duration
}

// JitterBuffer reorders RTP packets and paces them out on a playout clock
// anchored target-delay after the first arrival. Loss in front of a played
// packet becomes concealment debt served as silence frames.
type JitterBuffer struct {
	cfg JitterBufferConfig
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time

	mu          sync.Mutex
	packets     []*Packet
	pending     *Packet // popped but deferred behind concealment
	expectedSeq int     // -1 until the first packet
	played      bool
	playoutTime time.Time
	bufferDelay time.Duration
	lostDebt    int
	maxJitter   time.Duration

	received   uint64
	lost       uint64
	duplicates uint64
	late       uint64
	underruns  uint64
	overruns   uint64
}

// NewJitterBuffer applies defaults for any zero config field.
func NewJitterBuffer(cfg JitterBufferConfig) *JitterBuffer {
	def := DefaultJitterBufferConfig()
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.TargetDelay <= 0 {
		cfg.TargetDelay = def.TargetDelay
	}
	if cfg.PacketTime <= 0 {
		cfg.PacketTime = def.PacketTime
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	return &JitterBuffer{
		cfg:         cfg,
		clock:       time.Now,
		expectedSeq: -1,
		bufferDelay: cfg.TargetDelay,
	}
}

// Put inserts a received packet in sequence order. Duplicates and packets
// behind the playout position are dropped and counted.
func (b *JitterBuffer) Put(p *Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.received++
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = b.clock()
	}

	// First packet anchors the playout clock.
	if b.expectedSeq < 0 {
		b.expectedSeq = int(p.SequenceNumber)
		b.playoutTime = p.ReceivedAt.Add(b.cfg.TargetDelay)
	} else {
		// Jitter measure: how far arrival strays from the playout clock.
		if d := p.ReceivedAt.Sub(b.playoutTime); d > b.maxJitter {
			b.maxJitter = d
		} else if -d > b.maxJitter {
			b.maxJitter = -d
		}
	}

	// Behind the playout position: too late to play.
	if b.played && seqLess(p.SequenceNumber, uint16(b.expectedSeq)) {
		b.late++
		return
	}

	for _, existing := range b.packets {
		if existing.SequenceNumber == p.SequenceNumber {
			b.duplicates++
			return
		}
	}

	inserted := false
	for i, existing := range b.packets {
		if seqLess(p.SequenceNumber, existing.SequenceNumber) {
			b.packets = append(b.packets, nil)
			copy(b.packets[i+1:], b.packets[i:])
			b.packets[i] = p
			inserted = true
			break
		}
	}
	if !inserted {
		b.packets = append(b.packets, p)
	}

	if len(b.packets) > b.cfg.Capacity {
		b.packets = b.packets[1:]
		b.overruns++
	}

	if b.cfg.Adaptive {
		b.adjustDelay()
	}
}

// Get returns the next packet in playout order, or nil while the buffer is
// empty or the playout clock has not come due. A gap in front of the
// returned packet is added to the concealment debt.
func (b *JitterBuffer) Get() *Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pop()
}

func (b *JitterBuffer) pop() *Packet {
	if b.pending != nil {
		p := b.pending
		b.pending = nil
		return p
	}
	if len(b.packets) == 0 {
		if b.expectedSeq >= 0 && !b.clock().Before(b.playoutTime) {
			b.underruns++
		}
		return nil
	}
	if b.clock().Before(b.playoutTime) {
		return nil
	}

	p := b.packets[0]
	b.packets = b.packets[1:]

	if gap := seqDiff(p.SequenceNumber, uint16(b.expectedSeq)); gap > 0 {
		b.lost += uint64(gap)
		b.lostDebt += gap
	}
	b.expectedSeq = int(p.SequenceNumber+1) & 0xFFFF
	b.played = true
	b.playoutTime = b.playoutTime.Add(b.cfg.PacketTime)
	return p
}

// GetAudio returns the next playout frame as linear PCM16 samples
// (little-endian payload). Outstanding loss is concealed first: up to
// maxConcealFrames silence frames per call, the real packet follows on the
// next call. nil when the buffer is not ready.
func (b *JitterBuffer) GetAudio(samplesPerPacket int) []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frames := b.concealFrames(samplesPerPacket); frames != nil {
		return frames
	}

	p := b.pop()
	if p == nil {
		return nil
	}
	if frames := b.concealFrames(samplesPerPacket); frames != nil {
		// Gap discovered in front of this packet: play silence now, hold
		// the packet for the next read.
		b.pending = p
		return frames
	}

	samples := make([]int16, len(p.Payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(p.Payload[i*2:]))
	}
	return samples
}

func (b *JitterBuffer) concealFrames(samplesPerPacket int) []int16 {
	if b.lostDebt <= 0 {
		return nil
	}
	lost := b.lostDebt
	if lost > maxConcealFrames {
		lost = maxConcealFrames
	}
	b.lostDebt -= lost
	return make([]int16, lost*samplesPerPacket)
}

// adjustDelay widens the buffer under jitter and shrinks it back when the
// network calms down. The adapted delay is advisory: Pop keeps the fixed
// PacketTime cadence and the value only surfaces through Delay and the
// stats, matching the upstream buffer this one is tuned against.
// Caller holds the lock.
func (b *JitterBuffer) adjustDelay() {
	switch {
	case b.maxJitter > b.bufferDelay*8/10:
		b.bufferDelay += 10 * time.Millisecond
		if b.bufferDelay > b.cfg.MaxDelay {
			b.bufferDelay = b.cfg.MaxDelay
		}
	case b.maxJitter < b.bufferDelay*3/10:
		b.bufferDelay -= 5 * time.Millisecond
		if b.bufferDelay < b.cfg.MinDelay {
			b.bufferDelay = b.cfg.MinDelay
		}
	}
}

// Delay returns the current adaptive buffer delay.
func (b *JitterBuffer) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferDelay
}

// Stats returns a snapshot of buffer counters.
func (b *JitterBuffer) Stats() JitterStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return JitterStats{
		PacketsReceived: b.received,
		PacketsLost:     b.lost,
		Duplicates:      b.duplicates,
		Late:            b.late,
		Underruns:       b.underruns,
		Overruns:        b.overruns,
		Buffered:        len(b.packets),
		BufferDelay:     b.bufferDelay,
		MaxJitter:       b.maxJitter,
	}
}

// Clear drops buffered packets and re-arms the playout clock for the next
// talk spurt.
func (b *JitterBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
	b.pending = nil
	b.expectedSeq = -1
	b.played = false
	b.playoutTime = time.Time{}
	b.lostDebt = 0
}
