// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_rtp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"

	"github.com/praxisvoice/pkg/commons"
)

// ErrNoRemote is returned by Send before the peer address is known.
var ErrNoRemote = errors.New("rtp session has no remote address")

// SessionConfig describes one media leg.
type SessionConfig struct {
	LocalAddr   string // host:port, port 0 for ephemeral
	PayloadType uint8
	SampleRate  int
	Jitter      JitterBufferConfig
	// EnableRTCP opens a second socket on the RTP port + 1 and parses
	// incoming sender/receiver reports for loss telemetry.
	EnableRTCP bool
}

// SessionStats is a snapshot of the session counters.
type SessionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Malformed       uint64
	Jitter          JitterStats
}

// ReceptionQuality is the peer-reported link quality from the last RTCP
// report block.
type ReceptionQuality struct {
	FractionLost   float64
	CumulativeLost uint32
	HighestSeq     uint32
	Jitter         uint32
}

// Session is one bidirectional RTP flow: a UDP socket, a send cursor
// (seq/ts) and a jitter buffer on the receive side. The remote address is
// set from SDP or latched to the first sender (symmetric RTP).
type Session struct {
	logger commons.Logger

	conn     *net.UDPConn
	rtcpConn *net.UDPConn

	payloadType      uint8
	sampleRate       int
	samplesPerPacket uint32
	ssrc             uint32

	mu     sync.Mutex
	remote *net.UDPAddr
	seq    uint16
	ts     uint32

	jitter *JitterBuffer

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	malformed       atomic.Uint64

	qualityMu sync.Mutex
	quality   *ReceptionQuality

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewSession binds the local socket and seeds random SSRC, sequence and
// timestamp bases. The pump does not run until Start.
func NewSession(cfg SessionConfig, logger commons.Logger) (*Session, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving rtp local address %q: %w", cfg.LocalAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding rtp socket: %w", err)
	}

	s := &Session{
		logger:           logger,
		conn:             conn,
		payloadType:      cfg.PayloadType,
		sampleRate:       cfg.SampleRate,
		samplesPerPacket: uint32(cfg.SampleRate * 20 / 1000),
		ssrc:             rand.Uint32(),
		seq:              uint16(rand.Uint32()),
		ts:               rand.Uint32(),
		jitter:           NewJitterBuffer(cfg.Jitter),
		closed:           make(chan struct{}),
	}

	if cfg.EnableRTCP {
		rtcpAddr := &net.UDPAddr{IP: conn.LocalAddr().(*net.UDPAddr).IP, Port: s.LocalPort() + 1}
		rtcpConn, err := net.ListenUDP("udp", rtcpAddr)
		if err != nil {
			logger.Warnw("rtcp socket unavailable, reports disabled",
				"port", rtcpAddr.Port, "error", err)
		} else {
			s.rtcpConn = rtcpConn
		}
	}
	return s, nil
}

// LocalPort returns the bound RTP port for SDP answers.
func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SSRC returns the session's synchronization source identifier.
func (s *Session) SSRC() uint32 { return s.ssrc }

// SetRemote points the send side at the peer from SDP.
func (s *Session) SetRemote(host string, port int) error {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("resolving rtp remote %s:%d: %w", host, port, err)
	}
	s.mu.Lock()
	s.remote = raddr
	s.mu.Unlock()
	return nil
}

// SetPayloadType repoints outgoing packets at a newly negotiated codec.
// Negotiation finishes only with the SDP answer, after the socket had to
// be bound to build the offer.
func (s *Session) SetPayloadType(pt uint8) {
	s.mu.Lock()
	s.payloadType = pt
	s.mu.Unlock()
}

// Start runs the receive pump until the context ends or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.readLoop()
	if s.rtcpConn != nil {
		s.wg.Add(1)
		go s.rtcpLoop()
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()
}

// Send packetizes one 20ms payload and writes it to the peer. The timestamp
// advances by samples-per-packet regardless of payload size so silence
// suppression upstream keeps the clock honest.
func (s *Session) Send(payload []byte, marker bool) error {
	s.mu.Lock()
	remote := s.remote
	pkt := &Packet{
		SequenceNumber: s.seq,
		Timestamp:      s.ts,
		SSRC:           s.ssrc,
		PayloadType:    s.payloadType,
		Marker:         marker,
		Payload:        payload,
	}
	s.seq++
	s.ts += s.samplesPerPacket
	s.mu.Unlock()

	if remote == nil {
		return ErrNoRemote
	}
	data, err := pkt.Serialize()
	if err != nil {
		return err
	}
	n, err := s.conn.WriteToUDP(data, remote)
	if err != nil {
		return fmt.Errorf("sending rtp packet: %w", err)
	}
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(n))
	return nil
}

// Receive returns the next packet in playout order, nil when the jitter
// buffer is not ready.
func (s *Session) Receive() *Packet {
	return s.jitter.Get()
}

// Jitter exposes the receive buffer for concealment-aware consumers.
func (s *Session) Jitter() *JitterBuffer { return s.jitter }

// Quality returns the peer-reported reception quality, nil before the first
// RTCP report.
func (s *Session) Quality() *ReceptionQuality {
	s.qualityMu.Lock()
	defer s.qualityMu.Unlock()
	return s.quality
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		Malformed:       s.malformed.Load(),
		Jitter:          s.jitter.Stats(),
	}
}

// Close shuts both sockets down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
		if s.rtcpConn != nil {
			s.rtcpConn.Close()
		}
	})
	s.wg.Wait()
	return nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Warnw("rtp read failed", "error", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		pkt, err := ParsePacket(data)
		if err != nil {
			s.malformed.Add(1)
			s.logger.Debugw("dropping malformed rtp packet", "error", err, "from", raddr.String())
			continue
		}
		pkt.ReceivedAt = time.Now()

		// Symmetric RTP: latch onto the first sender when SDP gave us
		// nothing (common behind NAT).
		s.mu.Lock()
		if s.remote == nil {
			s.remote = raddr
			s.logger.Infow("rtp remote latched", "remote", raddr.String())
		}
		s.mu.Unlock()

		s.packetsReceived.Add(1)
		s.bytesReceived.Add(uint64(n))
		s.jitter.Put(pkt)
	}
}

func (s *Session) rtcpLoop() {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := s.rtcpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.logger.Debugw("dropping malformed rtcp packet", "error", err)
			continue
		}
		for _, p := range packets {
			var reports []rtcp.ReceptionReport
			switch r := p.(type) {
			case *rtcp.SenderReport:
				reports = r.Reports
			case *rtcp.ReceiverReport:
				reports = r.Reports
			}
			for _, report := range reports {
				if report.SSRC != s.ssrc {
					continue
				}
				q := &ReceptionQuality{
					FractionLost:   float64(report.FractionLost) / 256,
					CumulativeLost: report.TotalLost,
					HighestSeq:     report.LastSequenceNumber,
					Jitter:         report.Jitter,
				}
				s.qualityMu.Lock()
				s.quality = q
				s.qualityMu.Unlock()
				s.logger.Debugw("rtcp report",
					"fraction_lost", q.FractionLost,
					"cumulative_lost", q.CumulativeLost,
					"jitter", q.Jitter)
			}
		}
	}
}
