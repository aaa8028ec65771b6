// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_bridge accepts PBX media connections over TCP and bridges
// raw telephony frames to the 16 kHz float32 engine format. One goroutine
// owns each connection; audio reaches the engine through callbacks.
package internal_bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	"github.com/praxisvoice/pkg/commons"
)

// FrameProtocol selects the wire framing of media connections.
type FrameProtocol int

const (
	// ProtocolRaw is a bare stream of fixed-size codec frames.
	ProtocolRaw FrameProtocol = iota
	// ProtocolSequenced prefixes every frame with a 4-byte big-endian
	// sequence number, the format mod_audio_socket emits.
	ProtocolSequenced
)

// sequenceHeaderSize is the prefix length of ProtocolSequenced frames.
const sequenceHeaderSize = 4

// Config binds the bridge listener.
type Config struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"gte=0"`
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	ConnectionsTotal  uint64
	ConnectionsActive int64
	BytesReceived     uint64
	BytesSent         uint64
	FramesReceived    uint64
	FramesSent        uint64
	DecodeErrors      uint64
	EncodeErrors      uint64
}

// Option tunes a Bridge beyond the listener binding.
type Option func(*Bridge)

// WithFrameProtocol selects raw or sequenced framing.
func WithFrameProtocol(p FrameProtocol) Option {
	return func(b *Bridge) { b.protocol = p }
}

// WithBufferChunks sets how many 20ms frames accumulate before the audio
// callback fires. Default 5 (100ms).
func WithBufferChunks(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.bufferChunks = n
		}
	}
}

// WithReadTimeout sets the per-read deadline. Default 5s.
func WithReadTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.readTimeout = d
		}
	}
}

// WithClock injects a clock for deadline arithmetic in tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Bridge) {
		if clock != nil {
			b.clock = clock
		}
	}
}

type connection struct {
	id       string
	conn     net.Conn
	pipeline *internal_pipeline.Pipeline

	writeMu sync.Mutex
	outSeq  uint32
	closed  atomic.Bool
}

func (c *connection) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

// Bridge is the TCP media listener. Telephony frames arrive in the
// configured codec, leave the bridge as engine samples, and agent audio goes
// back the mirror path through SendAudio.
type Bridge struct {
	logger commons.Logger
	config Config
	codec  internal_codec.Codec

	protocol     FrameProtocol
	bufferChunks int
	readTimeout  time.Duration
	clock        func() time.Time

	onAudio      func(sessionID string, samples []float32)
	onConnect    func(sessionID string)
	onDisconnect func(sessionID string)

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*connection
	closed   bool
	wg       sync.WaitGroup

	connectionsTotal  atomic.Uint64
	connectionsActive atomic.Int64
	bytesReceived     atomic.Uint64
	bytesSent         atomic.Uint64
	framesReceived    atomic.Uint64
	framesSent        atomic.Uint64
	decodeErrors      atomic.Uint64
	encodeErrors      atomic.Uint64
}

// New builds a bridge for one telephony codec. Callbacks are registered
// before Start.
func New(config Config, codec internal_codec.Codec, logger commons.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		logger:       logger,
		config:       config,
		codec:        codec,
		protocol:     ProtocolRaw,
		bufferChunks: 5,
		readTimeout:  5 * time.Second,
		clock:        time.Now,
		conns:        make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetOnAudio registers the engine-bound audio callback.
func (b *Bridge) SetOnAudio(fn func(sessionID string, samples []float32)) { b.onAudio = fn }

// SetOnConnect registers the new-connection callback.
func (b *Bridge) SetOnConnect(fn func(sessionID string)) { b.onConnect = fn }

// SetOnDisconnect registers the connection-closed callback.
func (b *Bridge) SetOnDisconnect(fn func(sessionID string)) { b.onDisconnect = fn }

// Start binds the listener and serves connections until Close.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bridge is closed")
	}
	if b.listener != nil {
		return errors.New("bridge already started")
	}

	addr := fmt.Sprintf("%s:%d", b.config.Host, b.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding audio bridge on %s: %w", addr, err)
	}
	b.listener = listener

	b.wg.Add(1)
	go b.acceptLoop(listener)

	b.logger.Infow("audio bridge listening",
		"addr", listener.Addr().String(),
		"codec", b.codec.Name(),
		"protocol", int(b.protocol),
		"buffer_chunks", b.bufferChunks)
	return nil
}

// Addr returns the bound listener address, nil before Start.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

func (b *Bridge) acceptLoop(listener net.Listener) {
	defer b.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			b.logger.Warnw("bridge accept failed", "error", err)
			return
		}

		c := &connection{
			id:       uuid.NewString(),
			conn:     conn,
			pipeline: internal_pipeline.New(b.codec, b.logger),
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.conns[c.id] = c
		b.mu.Unlock()

		b.connectionsTotal.Add(1)
		b.connectionsActive.Add(1)
		b.logger.Infow("audio connection opened",
			"session_id", c.id, "peer", conn.RemoteAddr().String())

		if b.onConnect != nil {
			b.onConnect(c.id)
		}

		b.wg.Add(1)
		go b.serveConnection(c)
	}
}

// serveConnection owns the read side of one media socket until EOF, a hard
// error or bridge shutdown.
func (b *Bridge) serveConnection(c *connection) {
	defer b.wg.Done()
	defer func() {
		c.close()
		b.mu.Lock()
		delete(b.conns, c.id)
		b.mu.Unlock()
		b.connectionsActive.Add(-1)
		if b.onDisconnect != nil {
			b.onDisconnect(c.id)
		}
		b.logger.Infow("audio connection closed", "session_id", c.id)
	}()

	frameBytes := internal_codec.FrameBytes(b.codec)
	readSize := frameBytes
	if b.protocol == ProtocolSequenced {
		readSize += sequenceHeaderSize
	}

	buf := make([]byte, readSize)
	filled := 0
	pending := make([]byte, 0, frameBytes*b.bufferChunks)
	chunks := 0
	var lastSeq uint32
	haveSeq := false

	for {
		if err := c.conn.SetReadDeadline(b.clock().Add(b.readTimeout)); err != nil {
			return
		}
		n, err := io.ReadFull(c.conn, buf[filled:])
		filled += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Keep any partial frame and resume filling it.
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !c.closed.Load() {
				b.logger.Warnw("audio connection read failed", "session_id", c.id, "error", err)
			}
			return
		}
		filled = 0

		frame := buf
		if b.protocol == ProtocolSequenced {
			seq := binary.BigEndian.Uint32(buf[:sequenceHeaderSize])
			if haveSeq && seq != lastSeq+1 {
				b.logger.Debugw("media frame sequence gap",
					"session_id", c.id, "expected", lastSeq+1, "got", seq)
			}
			lastSeq = seq
			haveSeq = true
			frame = buf[sequenceHeaderSize:]
		}

		b.bytesReceived.Add(uint64(len(frame)))
		pending = append(pending, frame...)
		chunks++
		if chunks < b.bufferChunks {
			continue
		}

		samples, err := c.pipeline.Inbound(pending)
		pending = pending[:0]
		chunks = 0
		if err != nil {
			b.decodeErrors.Add(1)
			b.logger.Warnw("codec decode failed, dropping frame",
				"session_id", c.id, "error", err)
			continue
		}
		b.framesReceived.Add(1)
		if b.onAudio != nil {
			b.onAudio(c.id, samples)
		}
	}
}

// SendAudio encodes engine samples back to the telephony codec and writes
// them synchronously. Returns false when the session is unknown, closed or
// the write fails.
func (b *Bridge) SendAudio(sessionID string, samples []float32) bool {
	b.mu.Lock()
	c, ok := b.conns[sessionID]
	b.mu.Unlock()
	if !ok || c.closed.Load() {
		return false
	}

	data, err := c.pipeline.Outbound(samples)
	if err != nil {
		b.encodeErrors.Add(1)
		b.logger.Warnw("codec encode failed", "session_id", sessionID, "error", err)
		return false
	}
	if b.protocol == ProtocolSequenced {
		c.writeMu.Lock()
		c.outSeq++
		framed := make([]byte, sequenceHeaderSize+len(data))
		binary.BigEndian.PutUint32(framed, c.outSeq)
		copy(framed[sequenceHeaderSize:], data)
		data = framed
	} else {
		c.writeMu.Lock()
	}
	n, err := c.conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		b.logger.Warnw("audio write failed", "session_id", sessionID, "error", err)
		return false
	}

	b.bytesSent.Add(uint64(n))
	b.framesSent.Add(1)
	return true
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		ConnectionsTotal:  b.connectionsTotal.Load(),
		ConnectionsActive: b.connectionsActive.Load(),
		BytesReceived:     b.bytesReceived.Load(),
		BytesSent:         b.bytesSent.Load(),
		FramesReceived:    b.framesReceived.Load(),
		FramesSent:        b.framesSent.Load(),
		DecodeErrors:      b.decodeErrors.Load(),
		EncodeErrors:      b.encodeErrors.Load(),
	}
}

// Close stops the listener, drops all connections and waits for their
// goroutines. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	listener := b.listener
	conns := make([]*connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.close()
	}
	b.wg.Wait()
	b.logger.Infow("audio bridge stopped")
	return nil
}
