// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_twilio_telephony serves Twilio Media Streams: the
// WebSocket Twilio opens when TwiML contains a <Stream> verb. Audio arrives
// and leaves as base64 µ-law at 8 kHz inside JSON envelopes and is bridged
// to the 16 kHz float32 engine format. Twilio buffers outbound audio on its
// side, so frames are written unpaced and barge-in sends a clear event to
// drop Twilio's buffer along with the local queue.
package internal_twilio_telephony

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	"github.com/praxisvoice/pkg/commons"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 5 * time.Second
	// maxMessageSize caps one inbound frame.
	maxMessageSize = 1 << 20
	// outQueueFrames is the depth of the outbound media queue.
	outQueueFrames = 1024
)

// Config shapes the Media Streams endpoint.
type Config struct {
	// MaxConnections caps concurrent streams. Excess connections are
	// closed with 1013 (try again later).
	MaxConnections int `mapstructure:"max_connections" validate:"gt=0"`
}

// DefaultConfig allows 10 concurrent streams.
func DefaultConfig() Config {
	return Config{MaxConnections: 10}
}

// Stats is a snapshot of stream handler counters.
type Stats struct {
	ConnectionsTotal    uint64
	ConnectionsActive   int64
	ConnectionsRejected uint64
	BytesReceived       uint64
	BytesSent           uint64
	FramesReceived      uint64
	FramesSent          uint64
	FramesDropped       uint64
	DecodeErrors        uint64
}

type stream struct {
	sid      string
	conn     *websocket.Conn
	pipeline *internal_pipeline.Pipeline

	out   chan []byte   // marshaled envelopes awaiting the writer
	flush chan struct{} // barge-in: drop the local queue, then send clear
	done  chan struct{}
	once  sync.Once
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// StreamHandler terminates Media Streams connections. Caller audio reaches
// the engine through the OnAudio callback keyed by stream SID; agent audio
// goes back through SendAudio.
type StreamHandler struct {
	logger   commons.Logger
	config   Config
	upgrader websocket.Upgrader

	frameBytes int

	onAudio func(streamSid string, samples []float32)
	onStart func(info StreamInfo)
	onStop  func(streamSid string)

	mu      sync.Mutex
	streams map[string]*stream
	conns   map[*websocket.Conn]bool
	shut    bool
	wg      sync.WaitGroup

	connectionsTotal    atomic.Uint64
	connectionsActive   atomic.Int64
	connectionsRejected atomic.Uint64
	bytesReceived       atomic.Uint64
	bytesSent           atomic.Uint64
	framesReceived      atomic.Uint64
	framesSent          atomic.Uint64
	framesDropped       atomic.Uint64
	decodeErrors        atomic.Uint64
}

// NewStreamHandler builds the endpoint. Callbacks are registered before the
// first stream arrives.
func NewStreamHandler(config Config, logger commons.Logger) *StreamHandler {
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultConfig().MaxConnections
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &StreamHandler{
		logger: logger,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		frameBytes: internal_codec.FrameBytes(internal_codec.NewMuLawCodec()),
		streams:    make(map[string]*stream),
		conns:      make(map[*websocket.Conn]bool),
	}
}

// SetOnAudio registers the engine-bound audio callback.
func (h *StreamHandler) SetOnAudio(fn func(streamSid string, samples []float32)) { h.onAudio = fn }

// SetOnStart registers the stream-started callback.
func (h *StreamHandler) SetOnStart(fn func(info StreamInfo)) { h.onStart = fn }

// SetOnStop registers the stream-ended callback.
func (h *StreamHandler) SetOnStop(fn func(streamSid string)) { h.onStop = fn }

// Handle upgrades one request and blocks until Twilio stops the stream.
// Mount with gin.WrapF.
func (h *StreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.shut {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("media stream upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	h.mu.Lock()
	if h.shut || len(h.conns) >= h.config.MaxConnections {
		shut := h.shut
		h.mu.Unlock()
		h.connectionsRejected.Add(1)
		reason := "Max connections reached"
		if shut {
			reason = "shutting down"
		}
		h.logger.Warnw("media stream rejected", "reason", reason)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.conns[conn] = true
	h.mu.Unlock()

	h.connectionsTotal.Add(1)
	h.connectionsActive.Add(1)
	h.logger.Infow("media stream connection opened", "peer", conn.RemoteAddr().String())

	s := h.readLoop(conn)

	if s != nil {
		s.close()
		h.mu.Lock()
		delete(h.streams, s.sid)
		delete(h.conns, conn)
		h.mu.Unlock()
		if h.onStop != nil {
			h.onStop(s.sid)
		}
		h.logger.Infow("media stream closed", "stream_sid", s.sid)
	} else {
		conn.Close()
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
	}
	h.connectionsActive.Add(-1)
}

// readLoop consumes envelopes until stop, disconnect or shutdown. It returns
// the stream registered by the start event, nil when none arrived.
func (h *StreamHandler) readLoop(conn *websocket.Conn) *stream {
	var s *stream
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if (s == nil || !s.closed()) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Warnw("media stream read failed", "error", err)
			}
			return s
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warnw("media stream sent invalid JSON", "error", err)
			continue
		}

		switch msg.Event {
		case EventConnected:
			h.logger.Debugw("media stream protocol connected")

		case EventStart:
			if msg.Start == nil {
				h.logger.Warnw("start event without payload")
				continue
			}
			s = h.registerStream(conn, msg.Start)

		case EventMedia:
			if s == nil || msg.Media == nil {
				continue // media before start carries no stream identity
			}
			h.handleMedia(s, msg.Media)

		case EventMark:
			if msg.Mark != nil {
				h.logger.Debugw("media stream mark", "name", msg.Mark.Name)
			}

		case EventStop:
			sid := msg.StreamSid
			if s != nil {
				sid = s.sid
			}
			h.logger.Infow("media stream stopped by peer", "stream_sid", sid)
			return s

		default:
			h.logger.Debugw("ignoring unknown media stream event", "event", msg.Event)
		}
	}
}

func (h *StreamHandler) registerStream(conn *websocket.Conn, start *startPayload) *stream {
	s := &stream{
		sid:      start.StreamSid,
		conn:     conn,
		pipeline: internal_pipeline.New(internal_codec.NewMuLawCodec(), h.logger),
		out:      make(chan []byte, outQueueFrames),
		flush:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.streams[s.sid] = s
	h.mu.Unlock()

	h.wg.Add(1)
	go h.writeLoop(s)

	if start.MediaFormat != nil && start.MediaFormat.Encoding != "" &&
		start.MediaFormat.Encoding != "audio/x-mulaw" {
		h.logger.Warnw("unexpected media stream encoding, assuming mulaw",
			"stream_sid", s.sid, "encoding", start.MediaFormat.Encoding)
	}
	h.logger.Infow("media stream started",
		"stream_sid", s.sid, "call_sid", start.CallSid)

	if h.onStart != nil {
		h.onStart(StreamInfo{
			StreamSid:        start.StreamSid,
			CallSid:          start.CallSid,
			AccountSid:       start.AccountSid,
			CustomParameters: start.CustomParameters,
		})
	}
	return s
}

func (h *StreamHandler) handleMedia(s *stream, media *mediaPayload) {
	payload, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		h.decodeErrors.Add(1)
		h.logger.Warnw("media payload is not base64", "stream_sid", s.sid, "error", err)
		return
	}
	h.bytesReceived.Add(uint64(len(payload)))
	if len(payload) == 0 {
		return
	}

	samples, err := s.pipeline.Inbound(payload)
	if err != nil {
		h.decodeErrors.Add(1)
		h.logger.Warnw("mulaw decode failed", "stream_sid", s.sid, "error", err)
		return
	}
	h.framesReceived.Add(1)
	if h.onAudio != nil {
		h.onAudio(s.sid, samples)
	}
}

// writeLoop is the only goroutine writing to the socket. Twilio paces
// playback itself, so queued envelopes leave as fast as the socket accepts
// them; a flush drops whatever is still local before the clear event goes
// out.
func (h *StreamHandler) writeLoop(s *stream) {
	defer h.wg.Done()
	for {
		select {
		case <-s.done:
			return

		case <-s.flush:
			h.drainOut(s)
			if err := h.writeClear(s); err != nil {
				s.close()
				return
			}

		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !s.closed() {
					h.logger.Warnw("media stream write failed", "stream_sid", s.sid, "error", err)
				}
				s.close()
				return
			}
			h.bytesSent.Add(uint64(len(msg)))
			h.framesSent.Add(1)
		}
	}
}

func (h *StreamHandler) writeClear(s *stream) error {
	msg, err := json.Marshal(envelope{Event: EventClear, StreamSid: s.sid})
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		if !s.closed() {
			h.logger.Warnw("media stream clear failed", "stream_sid", s.sid, "error", err)
		}
		return err
	}
	return nil
}

func (h *StreamHandler) drainOut(s *stream) {
	for {
		select {
		case <-s.out:
			h.framesDropped.Add(1)
		default:
			return
		}
	}
}

func (h *StreamHandler) stream(streamSid string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[streamSid]
}

// SendAudio encodes agent samples to µ-law, slices them into 20ms payloads
// and queues one media envelope per payload. Returns false when the stream
// is unknown or closed.
func (h *StreamHandler) SendAudio(streamSid string, samples []float32) bool {
	s := h.stream(streamSid)
	if s == nil || s.closed() {
		return false
	}

	data, err := s.pipeline.Outbound(samples)
	if err != nil {
		h.logger.Warnw("mulaw encode failed", "stream_sid", streamSid, "error", err)
		return false
	}

	for off := 0; off < len(data); off += h.frameBytes {
		end := off + h.frameBytes
		if end > len(data) {
			end = len(data)
		}
		msg, err := json.Marshal(envelope{
			Event:     EventMedia,
			StreamSid: s.sid,
			Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(data[off:end])},
		})
		if err != nil {
			h.logger.Errorw("marshaling media envelope failed", "stream_sid", streamSid, "error", err)
			return false
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return false
		default:
			h.framesDropped.Add(1)
		}
	}
	return true
}

// SendMark queues a mark envelope; Twilio echoes it back once everything
// queued before it has been played.
func (h *StreamHandler) SendMark(streamSid, name string) bool {
	s := h.stream(streamSid)
	if s == nil || s.closed() {
		return false
	}
	msg, err := json.Marshal(envelope{
		Event:     EventMark,
		StreamSid: s.sid,
		Mark:      &markPayload{Name: name},
	})
	if err != nil {
		return false
	}
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	default:
		h.framesDropped.Add(1)
		return false
	}
}

// FlushAudio drops locally queued media and tells Twilio to clear its
// playback buffer. Used on barge-in.
func (h *StreamHandler) FlushAudio(streamSid string) {
	s := h.stream(streamSid)
	if s == nil {
		return
	}
	select {
	case s.flush <- struct{}{}:
	default: // flush already pending
	}
}

// CloseStream terminates one stream, e.g. when its engine ends the call.
func (h *StreamHandler) CloseStream(streamSid string) {
	s := h.stream(streamSid)
	if s == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.close()
}

// ActiveStreams returns the number of streams past their start event.
func (h *StreamHandler) ActiveStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Stats returns a snapshot of handler counters.
func (h *StreamHandler) Stats() Stats {
	return Stats{
		ConnectionsTotal:    h.connectionsTotal.Load(),
		ConnectionsActive:   h.connectionsActive.Load(),
		ConnectionsRejected: h.connectionsRejected.Load(),
		BytesReceived:       h.bytesReceived.Load(),
		BytesSent:           h.bytesSent.Load(),
		FramesReceived:      h.framesReceived.Load(),
		FramesSent:          h.framesSent.Load(),
		FramesDropped:       h.framesDropped.Load(),
		DecodeErrors:        h.decodeErrors.Load(),
	}
}

// Close rejects new connections, drops all streams and waits for their
// writers. Safe to call more than once.
func (h *StreamHandler) Close() error {
	h.mu.Lock()
	if h.shut {
		h.mu.Unlock()
		return nil
	}
	h.shut = true
	streams := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, s := range streams {
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.close()
	}
	// Connections that never sent a start event hold no stream; drop the
	// raw sockets so their read loops return.
	for _, c := range conns {
		c.Close()
	}
	h.wg.Wait()
	h.logger.Infow("media stream handler stopped")
	return nil
}
