// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_rtp

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestBuffer() (*JitterBuffer, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	jb := NewJitterBuffer(JitterBufferConfig{Adaptive: false})
	jb.clock = clk.Now
	return jb, clk
}

func packet(seq uint16, at time.Time) *Packet {
	payload := make([]byte, 320) // 160 samples L16
	return &Packet{SequenceNumber: seq, PayloadType: 11, Payload: payload, ReceivedAt: at}
}

// =============================================================================
// Packet parse / serialize
// =============================================================================

func TestPacketRoundTrip(t *testing.T) {
	in := &Packet{
		SequenceNumber: 4711,
		Timestamp:      160000,
		SSRC:           0xDEADBEEF,
		PayloadType:    8,
		Marker:         true,
		Payload:        []byte{0xD5, 0xD5, 0xD5, 0xD5},
	}
	data, err := in.Serialize()
	require.NoError(t, err)

	out, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, in.SequenceNumber, out.SequenceNumber)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	assert.Equal(t, in.SSRC, out.SSRC)
	assert.Equal(t, in.PayloadType, out.PayloadType)
	assert.Equal(t, in.Marker, out.Marker)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestParsePacketTooShort(t *testing.T) {
	_, err := ParsePacket(make([]byte, 11))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPacket))
}

func TestParsePacketWrongVersion(t *testing.T) {
	data := make([]byte, 12)
	data[0] = 0x40 // version 1
	_, err := ParsePacket(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPacket))
}

func TestSeqLessWrapAround(t *testing.T) {
	assert.True(t, seqLess(65534, 1))
	assert.True(t, seqLess(65535, 0))
	assert.False(t, seqLess(1, 65534))
	assert.False(t, seqLess(5, 5))
	assert.True(t, seqLess(5, 6))
}

// =============================================================================
// Jitter buffer ordering
// =============================================================================

func TestJitterBufferReordersPackets(t *testing.T) {
	jb, clk := newTestBuffer()
	at := clk.Now()

	for _, seq := range []uint16{7, 5, 6, 8} {
		jb.Put(packet(seq, at))
	}
	// Past target delay plus one packet time per pop.
	clk.Advance(200 * time.Millisecond)

	var got []uint16
	for {
		p := jb.Get()
		if p == nil {
			break
		}
		got = append(got, p.SequenceNumber)
	}
	assert.Equal(t, []uint16{5, 6, 7, 8}, got)
	assert.Zero(t, jb.Stats().PacketsLost, "reordering is not loss")
}

func TestJitterBufferSequenceWrap(t *testing.T) {
	jb, clk := newTestBuffer()
	at := clk.Now()

	for _, seq := range []uint16{65535, 65534, 1, 0} {
		jb.Put(packet(seq, at))
	}
	clk.Advance(200 * time.Millisecond)

	var got []uint16
	for {
		p := jb.Get()
		if p == nil {
			break
		}
		got = append(got, p.SequenceNumber)
	}
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, got)
	assert.Zero(t, jb.Stats().PacketsLost)
}

func TestJitterBufferHoldsUntilTargetDelay(t *testing.T) {
	jb, clk := newTestBuffer()
	jb.Put(packet(1, clk.Now()))

	assert.Nil(t, jb.Get(), "not due before target delay")
	clk.Advance(99 * time.Millisecond)
	assert.Nil(t, jb.Get())
	clk.Advance(time.Millisecond)
	assert.NotNil(t, jb.Get(), "due at first arrival + target delay")
}

func TestJitterBufferDropsDuplicates(t *testing.T) {
	jb, clk := newTestBuffer()
	at := clk.Now()

	jb.Put(packet(10, at))
	jb.Put(packet(10, at))
	jb.Put(packet(11, at))

	stats := jb.Stats()
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, 2, stats.Buffered)
}

func TestJitterBufferDropsLatePackets(t *testing.T) {
	jb, clk := newTestBuffer()
	jb.Put(packet(10, clk.Now()))
	clk.Advance(120 * time.Millisecond)
	require.NotNil(t, jb.Get())

	// Sequence 9 is behind the playout position now.
	jb.Put(packet(9, clk.Now()))
	stats := jb.Stats()
	assert.Equal(t, uint64(1), stats.Late)
	assert.Zero(t, stats.Buffered)
}

func TestJitterBufferOverrunDropsOldest(t *testing.T) {
	jb, clk := newTestBuffer()
	at := clk.Now()
	for seq := 0; seq < 105; seq++ {
		jb.Put(packet(uint16(seq), at))
	}
	stats := jb.Stats()
	assert.Equal(t, uint64(5), stats.Overruns)
	assert.Equal(t, 100, stats.Buffered)
}

func TestJitterBufferUnderrunCounted(t *testing.T) {
	jb, clk := newTestBuffer()
	jb.Put(packet(1, clk.Now()))
	clk.Advance(120 * time.Millisecond)
	require.NotNil(t, jb.Get())

	assert.Nil(t, jb.Get(), "buffer drained")
	assert.Equal(t, uint64(1), jb.Stats().Underruns)
}

// =============================================================================
// Loss concealment
// =============================================================================

func TestConcealmentFillsGapWithSilence(t *testing.T) {
	jb, clk := newTestBuffer()
	jb.Put(packet(10, clk.Now()))
	clk.Advance(120 * time.Millisecond)
	require.NotNil(t, jb.GetAudio(160))

	// 11 and 12 lost, 13 arrives.
	jb.Put(packet(13, clk.Now()))
	clk.Advance(40 * time.Millisecond)

	silence := jb.GetAudio(160)
	require.NotNil(t, silence)
	assert.Len(t, silence, 2*160, "two lost frames concealed")
	for _, s := range silence {
		assert.Zero(t, s)
	}

	next := jb.GetAudio(160)
	require.NotNil(t, next)
	assert.Len(t, next, 160, "held packet plays after concealment")
	assert.Equal(t, uint64(2), jb.Stats().PacketsLost)
}

func TestConcealmentCapsAtFiveFramesPerRead(t *testing.T) {
	jb, clk := newTestBuffer()
	jb.Put(packet(10, clk.Now()))
	clk.Advance(120 * time.Millisecond)
	require.NotNil(t, jb.GetAudio(160))

	// Seven packets lost before 18.
	jb.Put(packet(18, clk.Now()))
	clk.Advance(40 * time.Millisecond)

	first := jb.GetAudio(160)
	require.NotNil(t, first)
	assert.Len(t, first, 5*160, "first read serves at most five frames")

	second := jb.GetAudio(160)
	require.NotNil(t, second)
	assert.Len(t, second, 2*160, "remaining debt on the next read")

	third := jb.GetAudio(160)
	require.NotNil(t, third)
	assert.Len(t, third, 160, "real packet follows the debt")
}

// =============================================================================
// Adaptive delay
// =============================================================================

func TestAdaptiveDelayGrowsUnderJitter(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	jb := NewJitterBuffer(JitterBufferConfig{Adaptive: true})
	jb.clock = clk.Now

	at := clk.Now()
	jb.Put(packet(1, at))
	for seq := uint16(2); seq <= 15; seq++ {
		// Arrivals drifting far past the playout clock.
		jb.Put(packet(seq, at.Add(400*time.Millisecond)))
	}
	assert.Equal(t, 200*time.Millisecond, jb.Delay(), "delay clamps at max")
}

func TestAdaptiveDelayShrinksWhenCalm(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	jb := NewJitterBuffer(JitterBufferConfig{Adaptive: true})
	jb.clock = clk.Now

	at := clk.Now()
	jb.Put(packet(1, at))
	for seq := uint16(2); seq <= 20; seq++ {
		// Arrivals exactly on the playout clock: zero jitter.
		jb.Put(packet(seq, at.Add(100*time.Millisecond)))
	}
	assert.Equal(t, 40*time.Millisecond, jb.Delay(), "delay clamps at min")
}

// =============================================================================
// Session
// =============================================================================

func TestSessionLoopback(t *testing.T) {
	logger := commons.NewNopLogger()
	sender, err := NewSession(SessionConfig{LocalAddr: "127.0.0.1:0", PayloadType: 0, SampleRate: 8000}, logger)
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := NewSession(SessionConfig{LocalAddr: "127.0.0.1:0", PayloadType: 0, SampleRate: 8000}, logger)
	require.NoError(t, err)
	defer receiver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	receiver.Start(ctx)

	require.NoError(t, sender.SetRemote("127.0.0.1", receiver.LocalPort()))

	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xFF
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, sender.Send(payload, i == 0))
	}

	require.Eventually(t, func() bool {
		return receiver.Stats().PacketsReceived == 3
	}, 2*time.Second, 10*time.Millisecond)

	var got []*Packet
	require.Eventually(t, func() bool {
		if p := receiver.Receive(); p != nil {
			got = append(got, p)
		}
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, got[0].Marker, "first packet carries the talk-spurt marker")
	assert.False(t, got[1].Marker)
	assert.Equal(t, got[0].SequenceNumber+1, got[1].SequenceNumber)
	assert.Equal(t, got[1].SequenceNumber+1, got[2].SequenceNumber)
	assert.Equal(t, got[0].Timestamp+160, got[1].Timestamp, "timestamp advances by samples per packet")
	assert.Equal(t, sender.SSRC(), got[0].SSRC)
}

func TestSessionSendWithoutRemote(t *testing.T) {
	s, err := NewSession(SessionConfig{LocalAddr: "127.0.0.1:0", PayloadType: 0, SampleRate: 8000}, commons.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	err = s.Send(make([]byte, 160), false)
	assert.True(t, errors.Is(err, ErrNoRemote))
}

func TestSessionCountsMalformedDatagrams(t *testing.T) {
	s, err := NewSession(SessionConfig{LocalAddr: "127.0.0.1:0", PayloadType: 0, SampleRate: 8000}, commons.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	conn, err := net.Dial("udp", s.conn.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not rtp"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Stats().Malformed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionLatchesRemoteFromFirstSender(t *testing.T) {
	logger := commons.NewNopLogger()
	a, err := NewSession(SessionConfig{LocalAddr: "127.0.0.1:0", PayloadType: 0, SampleRate: 8000}, logger)
	require.NoError(t, err)
	defer a.Close()

	b, err := NewSession(SessionConfig{LocalAddr: "127.0.0.1:0", PayloadType: 0, SampleRate: 8000}, logger)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	b.Start(ctx)

	require.NoError(t, a.SetRemote("127.0.0.1", b.LocalPort()))
	require.NoError(t, a.Send(make([]byte, 160), false))

	require.Eventually(t, func() bool {
		return b.Stats().PacketsReceived == 1
	}, 2*time.Second, 10*time.Millisecond)

	// b never called SetRemote; it answers toward the latched sender.
	require.NoError(t, b.Send(make([]byte, 160), false))
	require.Eventually(t, func() bool {
		return a.Stats().PacketsReceived == 1
	}, 2*time.Second, 10*time.Millisecond)
}
