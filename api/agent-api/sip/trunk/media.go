// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package sip_trunk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	internal_rtp "github.com/praxisvoice/api/agent-api/internal/rtp"
	sip_infra "github.com/praxisvoice/api/agent-api/sip/infra"
)

// leg is one call: a SIP dialog plus its RTP session and transcoding
// pipeline. Outbound legs settle the answered channel from the INVITE
// transaction; inbound legs are established the moment we send 200.
type leg struct {
	id      string
	inbound bool

	invite   *sip.Request
	inviteTx sip.ClientTransaction

	rtp        *internal_rtp.Session
	leasedPort int
	wire       internal_codec.Codec
	pipe       *internal_pipeline.Pipeline

	answered chan error
	out      chan []byte

	sendMu     sync.Mutex
	pending    []byte
	markerNext atomic.Bool

	established atomic.Bool
	closeOnce   sync.Once
	mediaCancel context.CancelFunc

	// Dialog identity captured at answer time, consumed by the BYE.
	byeRecipient sip.Uri
	localFrom    *sip.FromHeader
	remoteTo     *sip.ToHeader
	cseq         uint32
}

func (t *Trunk) baseCtx() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runCtx != nil {
		return t.runCtx
	}
	return context.Background()
}

// newLeg allocates the media half of a call: an RTP port lease when the
// pool is configured, the socket, and a PCMU pipeline until SDP
// negotiation pins the real codec.
func (t *Trunk) newLeg(ctx context.Context, callID string, inbound bool) (*leg, error) {
	port := 0
	if t.ports != nil {
		leased, err := t.ports.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		port = leased
	}
	sess, err := internal_rtp.NewSession(internal_rtp.SessionConfig{
		LocalAddr:   fmt.Sprintf(":%d", port),
		PayloadType: sip_infra.CodecPCMU.PayloadType,
		SampleRate:  int(sip_infra.CodecPCMU.ClockRate),
		Jitter:      t.jitter,
		EnableRTCP:  true,
	}, t.logger)
	if err != nil {
		if port > 0 {
			_ = t.ports.Release(ctx, port)
		}
		return nil, fmt.Errorf("sip: rtp session for %s: %w", callID, err)
	}

	wire, err := t.codecs.ByName(internal_codec.NamePCMU)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	l := &leg{
		id:         callID,
		inbound:    inbound,
		rtp:        sess,
		leasedPort: port,
		wire:       wire,
		pipe:       internal_pipeline.New(wire, t.logger),
		answered:   make(chan error, 1),
		out:        make(chan []byte, outQueueFrames),
	}
	l.markerNext.Store(true)
	return l, nil
}

// rtpPort is the port advertised in our SDP.
func (l *leg) rtpPort() int {
	if l.leasedPort > 0 {
		return l.leasedPort
	}
	return l.rtp.LocalPort()
}

// pinCodec switches the leg from the PCMU default to the negotiated
// codec. All supported codecs clock at 8 kHz on the wire, so only the
// payload type and transcoder change.
func (t *Trunk) pinCodec(l *leg, c sip_infra.Codec) error {
	wire, err := t.codecs.ByName(strings.ToLower(c.Name))
	if err != nil {
		return fmt.Errorf("sip: negotiate %s for %s: %w", c.Name, l.id, err)
	}
	l.wire = wire
	l.pipe = internal_pipeline.New(wire, t.logger)
	l.rtp.SetPayloadType(c.PayloadType)
	return nil
}

// startMedia launches the paced send and receive loops.
func (t *Trunk) startMedia(l *leg) {
	ctx, cancel := context.WithCancel(t.baseCtx())
	l.mediaCancel = cancel
	l.rtp.Start(ctx)
	l.established.Store(true)
	go t.sendLoop(ctx, l)
	go t.receiveLoop(ctx, l)
}

// sendLoop drains the outbound frame queue at wire pace. Silence is
// simply not sent; the far end's jitter buffer handles the gap.
func (t *Trunk) sendLoop(ctx context.Context, l *leg) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case frame := <-l.out:
				marker := l.markerNext.Swap(false)
				if err := l.rtp.Send(frame, marker); err != nil {
					t.logger.Debugw("sip: rtp send failed", "call_id", l.id, "error", err)
				}
			default:
			}
		}
	}
}

// receiveLoop pulls jitter-paced packets off the session, decodes them
// and hands engine samples to the service. DTMF event packets are not
// audio and are skipped.
func (t *Trunk) receiveLoop(ctx context.Context, l *leg) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkt := l.rtp.Receive()
			if pkt == nil {
				continue
			}
			if pkt.PayloadType == sip_infra.CodecTelephoneEvent.PayloadType {
				continue
			}
			samples, err := l.pipe.Inbound(pkt.Payload)
			if err != nil {
				t.logger.Debugw("sip: decode failed", "call_id", l.id, "error", err)
				continue
			}
			if t.onAudio != nil {
				t.onAudio(l.id, samples)
			}
		}
	}
}

// SendAudio transcodes agent samples and queues them as 20ms wire
// frames. Sub-frame remainders wait for the next burst, so consecutive
// synthesis chunks concatenate without clicks. Returns false when the
// call is gone.
func (t *Trunk) SendAudio(callID string, samples []float32) bool {
	t.mu.Lock()
	l := t.legs[callID]
	t.mu.Unlock()
	if l == nil || !l.established.Load() {
		return false
	}
	payload, err := l.pipe.Outbound(samples)
	if err != nil {
		t.logger.Warnw("sip: encode failed", "call_id", callID, "error", err)
		return true
	}

	frameBytes := internal_codec.FrameBytes(l.wire)
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	buf := append(l.pending, payload...)
	for len(buf) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, buf[:frameBytes])
		buf = buf[frameBytes:]
		select {
		case l.out <- frame:
		default:
			// Queue full: drop the oldest frame to stay near real time.
			select {
			case <-l.out:
			default:
			}
			select {
			case l.out <- frame:
			default:
			}
		}
	}
	l.pending = append(l.pending[:0], buf...)
	return true
}

// FlushAudio drops queued agent audio, the barge-in path. The next
// frame after a flush carries the RTP marker bit.
func (t *Trunk) FlushAudio(callID string) {
	t.mu.Lock()
	l := t.legs[callID]
	t.mu.Unlock()
	if l == nil {
		return
	}
	l.sendMu.Lock()
	l.pending = l.pending[:0]
	l.sendMu.Unlock()
	for {
		select {
		case <-l.out:
		default:
			l.markerNext.Store(true)
			return
		}
	}
}

// CloseCall hangs the call up without blocking the caller; it backs the
// media binding's Close hook.
func (t *Trunk) CloseCall(callID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer cancel()
		if err := t.Hangup(ctx, callID, "normal_clearing"); err != nil && err != ErrUnknownCall {
			t.logger.Debugw("sip: close call failed", "call_id", callID, "error", err)
		}
	}()
}

// closeLeg releases the leg's media resources, drops it from the table
// and fires the hangup callback. The service's disconnect path is
// idempotent, so local and remote teardowns both notify.
func (t *Trunk) closeLeg(l *leg) {
	l.closeOnce.Do(func() {
		l.established.Store(false)
		if l.mediaCancel != nil {
			l.mediaCancel()
		}
		_ = l.rtp.Close()
		if l.leasedPort > 0 && t.ports != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = t.ports.Release(ctx, l.leasedPort)
			cancel()
		}
		t.mu.Lock()
		delete(t.legs, l.id)
		t.mu.Unlock()
		if t.onHangup != nil {
			go t.onHangup(l.id)
		}
	})
}

// dropLeg is closeLeg for legs that never made it into the table: no
// callbacks, just resource release.
func (t *Trunk) dropLeg(l *leg) {
	l.closeOnce.Do(func() {
		_ = l.rtp.Close()
		if l.leasedPort > 0 && t.ports != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = t.ports.Release(ctx, l.leasedPort)
			cancel()
		}
	})
}
