// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_websocket serves browser audio sessions over a WebSocket:
// JSON control messages plus raw little-endian 16-bit PCM frames, bridged to
// the 16 kHz float32 engine format. Same role as the PBX audio bridge, for
// clients without telephony hardware. Per session one writer goroutine owns
// the socket; agent audio leaves through a paced queue that barge-in flushes.
package internal_websocket

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 5 * time.Second
	// maxMessageSize caps one inbound frame.
	maxMessageSize = 1 << 20
	// audioQueueFrames is the depth of the paced out queue, about 20s of
	// speech. Frames beyond it are dropped and counted.
	audioQueueFrames = 1024
	// controlQueueSize buffers JSON events awaiting the writer.
	controlQueueSize = 32
)

// Config shapes the audio session endpoint.
type Config struct {
	// SampleRate of client PCM in Hz. The engine rate unless a client
	// needs something else; other rates resample both ways.
	SampleRate int `mapstructure:"sample_rate" validate:"gt=0"`
	// MaxConnections caps concurrent sessions. Excess connections are
	// closed with 1013 (try again later).
	MaxConnections int `mapstructure:"max_connections" validate:"gt=0"`
	// JSONAudio switches outbound agent audio from binary frames to
	// base64 JSON audio messages.
	JSONAudio bool `mapstructure:"json_audio"`
}

// DefaultConfig serves engine-rate PCM for up to 10 browsers.
func DefaultConfig() Config {
	return Config{
		SampleRate:     internal_type.EngineSampleRate,
		MaxConnections: 10,
	}
}

// Stats is a snapshot of handler counters.
type Stats struct {
	ConnectionsTotal    uint64
	ConnectionsActive   int64
	ConnectionsRejected uint64
	BytesReceived       uint64
	BytesSent           uint64
	FramesReceived      uint64
	FramesSent          uint64
	FramesDropped       uint64
}

// Option tunes a Handler beyond its Config.
type Option func(*Handler)

// WithFrameInterval overrides the 20ms outbound pacing, for tests.
func WithFrameInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.frameInterval = d
		}
	}
}

type session struct {
	id       string
	conn     *websocket.Conn
	pipeline *internal_pipeline.Pipeline

	control chan []byte   // marshaled JSON events, written as they come
	audio   chan []byte   // encoded PCM frames, written one per tick
	flush   chan struct{} // barge-in: drop everything still queued
	done    chan struct{}
	once    sync.Once

	audioStarted   atomic.Bool
	bytesReceived  atomic.Uint64
	bytesSent      atomic.Uint64
	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Handler upgrades HTTP requests into audio sessions and pumps both
// directions until the peer or the handler closes. Engine audio reaches
// clients through SendAudio; client audio reaches the engine through the
// OnAudio callback.
type Handler struct {
	logger   commons.Logger
	config   Config
	upgrader websocket.Upgrader

	frameInterval time.Duration
	frameBytes    int

	onAudio      func(sessionID string, samples []float32)
	onConnect    func(sessionID string)
	onDisconnect func(sessionID string)

	mu       sync.Mutex
	sessions map[string]*session
	shut     bool
	wg       sync.WaitGroup

	connectionsTotal    atomic.Uint64
	connectionsActive   atomic.Int64
	connectionsRejected atomic.Uint64
	bytesReceived       atomic.Uint64
	bytesSent           atomic.Uint64
	framesReceived      atomic.Uint64
	framesSent          atomic.Uint64
	framesDropped       atomic.Uint64
}

// NewHandler builds the endpoint. Callbacks are registered before the first
// connection arrives.
func NewHandler(config Config, logger commons.Logger, opts ...Option) *Handler {
	def := DefaultConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}

	h := &Handler{
		logger: logger,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		frameInterval: internal_type.FrameDuration,
		sessions:      make(map[string]*session),
	}
	h.frameBytes = internal_codec.FrameBytes(internal_codec.NewL16LECodec(config.SampleRate))
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetOnAudio registers the engine-bound audio callback.
func (h *Handler) SetOnAudio(fn func(sessionID string, samples []float32)) { h.onAudio = fn }

// SetOnConnect registers the new-session callback.
func (h *Handler) SetOnConnect(fn func(sessionID string)) { h.onConnect = fn }

// SetOnDisconnect registers the session-closed callback.
func (h *Handler) SetOnDisconnect(fn func(sessionID string)) { h.onDisconnect = fn }

// Handle upgrades one request and blocks until its session ends. Mount with
// gin.WrapF.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.shut {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s := &session{
		id:       uuid.NewString(),
		conn:     conn,
		pipeline: internal_pipeline.New(internal_codec.NewL16LECodec(h.config.SampleRate), h.logger),
		control:  make(chan []byte, controlQueueSize),
		audio:    make(chan []byte, audioQueueFrames),
		flush:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.shut || len(h.sessions) >= h.config.MaxConnections {
		shut := h.shut
		h.mu.Unlock()
		h.connectionsRejected.Add(1)
		reason := "Max connections reached"
		if shut {
			reason = "shutting down"
		}
		h.logger.Warnw("websocket connection rejected", "reason", reason)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.connectionsTotal.Add(1)
	h.connectionsActive.Add(1)
	h.logger.Infow("websocket session opened",
		"session_id", s.id, "peer", conn.RemoteAddr().String())

	h.wg.Add(1)
	go h.writeLoop(s)

	h.enqueueControl(s, connectedEvent{
		Type:            TypeConnected,
		SessionID:       s.id,
		SampleRate:      h.config.SampleRate,
		FrameDurationMs: int(internal_type.FrameDuration / time.Millisecond),
	})
	if h.onConnect != nil {
		h.onConnect(s.id)
	}

	h.readLoop(s)

	s.close()
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	h.connectionsActive.Add(-1)
	if h.onDisconnect != nil {
		h.onDisconnect(s.id)
	}
	h.logger.Infow("websocket session closed", "session_id", s.id)
}

// readLoop owns the receive side until the peer goes away.
func (h *Handler) readLoop(s *session) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Warnw("websocket read failed", "session_id", s.id, "error", err)
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			h.handleControl(s, data)
		case websocket.BinaryMessage:
			// First binary frame starts the stream implicitly.
			s.audioStarted.Store(true)
			h.deliverAudio(s, data)
		}
	}
}

func (h *Handler) handleControl(s *session, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.enqueueControl(s, errorEvent{Type: TypeError, Error: "Invalid JSON"})
		return
	}

	switch msg.Type {
	case TypeStart:
		s.audioStarted.Store(true)
		h.enqueueControl(s, controlEvent{Type: TypeAudioStart})

	case TypeStop:
		s.audioStarted.Store(false)
		h.enqueueControl(s, controlEvent{Type: TypeAudioEnd})

	case TypeStatus:
		h.enqueueControl(s, statusEvent{
			Type:           TypeStatus,
			SessionID:      s.id,
			AudioStarted:   s.audioStarted.Load(),
			BytesReceived:  s.bytesReceived.Load(),
			BytesSent:      s.bytesSent.Load(),
			FramesReceived: s.framesReceived.Load(),
			FramesSent:     s.framesSent.Load(),
		})

	case TypeAudio:
		payload, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			h.enqueueControl(s, errorEvent{Type: TypeError, Error: "invalid audio payload"})
			return
		}
		s.audioStarted.Store(true)
		h.deliverAudio(s, payload)

	default:
		h.logger.Debugw("ignoring unknown control message",
			"session_id", s.id, "type", string(msg.Type))
	}
}

// deliverAudio decodes one PCM payload and hands it to the engine callback.
func (h *Handler) deliverAudio(s *session, payload []byte) {
	s.bytesReceived.Add(uint64(len(payload)))
	h.bytesReceived.Add(uint64(len(payload)))
	if len(payload) < 2 {
		return
	}

	samples, err := s.pipeline.Inbound(payload)
	if err != nil {
		h.logger.Warnw("websocket audio decode failed", "session_id", s.id, "error", err)
		return
	}
	s.framesReceived.Add(1)
	h.framesReceived.Add(1)
	if h.onAudio != nil {
		h.onAudio(s.id, samples)
	}
}

// writeLoop is the only goroutine writing to the socket. Control events go
// out as they arrive; audio leaves one frame per tick so a long reply cannot
// outrun the client, and a flush signal discards whatever is still queued.
func (h *Handler) writeLoop(s *session) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case msg := <-s.control:
			if err := h.write(s, websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}

		case <-s.flush:
			h.drainAudio(s)

		case <-ticker.C:
			select {
			case frame := <-s.audio:
				if err := h.writeAudioFrame(s, frame); err != nil {
					s.close()
					return
				}
			default:
			}
		}
	}
}

func (h *Handler) write(s *session, messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		if !s.closed() {
			h.logger.Warnw("websocket write failed", "session_id", s.id, "error", err)
		}
		return err
	}
	return nil
}

func (h *Handler) writeAudioFrame(s *session, frame []byte) error {
	if h.config.JSONAudio {
		msg, err := json.Marshal(audioEvent{
			Type:          TypeAudio,
			Data:          base64.StdEncoding.EncodeToString(frame),
			SampleRate:    h.config.SampleRate,
			Channels:      1,
			BitsPerSample: 16,
		})
		if err != nil {
			return err
		}
		if err := h.write(s, websocket.TextMessage, msg); err != nil {
			return err
		}
	} else {
		if err := h.write(s, websocket.BinaryMessage, frame); err != nil {
			return err
		}
	}
	s.bytesSent.Add(uint64(len(frame)))
	h.bytesSent.Add(uint64(len(frame)))
	s.framesSent.Add(1)
	h.framesSent.Add(1)
	return nil
}

func (h *Handler) drainAudio(s *session) {
	for {
		select {
		case <-s.audio:
			h.framesDropped.Add(1)
		default:
			return
		}
	}
}

func (h *Handler) session(sessionID string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}

// enqueueControl marshals and queues one JSON event. Events are dropped
// with a counter bump when the writer cannot keep up.
func (h *Handler) enqueueControl(s *session, event any) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorw("marshaling websocket event failed", "session_id", s.id, "error", err)
		return
	}
	select {
	case s.control <- msg:
	case <-s.done:
	default:
		h.framesDropped.Add(1)
		h.logger.Warnw("websocket control queue full, dropping event", "session_id", s.id)
	}
}

// SendAudio slices agent samples into 20ms frames and queues them for paced
// delivery. Returns false when the session is unknown or closed; queue
// overflow drops frames rather than blocking the engine.
func (h *Handler) SendAudio(sessionID string, samples []float32) bool {
	s := h.session(sessionID)
	if s == nil || s.closed() {
		return false
	}

	data, err := s.pipeline.Outbound(samples)
	if err != nil {
		h.logger.Warnw("websocket audio encode failed", "session_id", sessionID, "error", err)
		return false
	}

	for off := 0; off < len(data); off += h.frameBytes {
		end := off + h.frameBytes
		if end > len(data) {
			end = len(data)
		}
		select {
		case s.audio <- data[off:end]:
		case <-s.done:
			return false
		default:
			h.framesDropped.Add(1)
		}
	}
	return true
}

// SendTranscript pushes a recognition result to the client.
func (h *Handler) SendTranscript(sessionID, text string, isFinal bool) bool {
	s := h.session(sessionID)
	if s == nil || s.closed() {
		return false
	}
	h.enqueueControl(s, transcriptEvent{Type: TypeTranscript, Text: text, IsFinal: isFinal})
	return true
}

// SendResponse pushes agent reply text to the client.
func (h *Handler) SendResponse(sessionID, text string) bool {
	s := h.session(sessionID)
	if s == nil || s.closed() {
		return false
	}
	h.enqueueControl(s, responseEvent{Type: TypeResponse, Text: text})
	return true
}

// SendError pushes an error event to the client.
func (h *Handler) SendError(sessionID, message string) bool {
	s := h.session(sessionID)
	if s == nil || s.closed() {
		return false
	}
	h.enqueueControl(s, errorEvent{Type: TypeError, Error: message})
	return true
}

// FlushAudio drops queued agent audio on barge-in. At most one frame already
// picked by the writer can still reach the wire.
func (h *Handler) FlushAudio(sessionID string) {
	s := h.session(sessionID)
	if s == nil {
		return
	}
	select {
	case s.flush <- struct{}{}:
	default: // flush already pending
	}
}

// CloseSession terminates one session, e.g. when its engine ends the call.
func (h *Handler) CloseSession(sessionID string) {
	s := h.session(sessionID)
	if s == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.close()
}

// SessionIDs lists the currently connected sessions.
func (h *Handler) SessionIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ActiveSessions returns the live session count.
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Stats returns a snapshot of handler counters.
func (h *Handler) Stats() Stats {
	return Stats{
		ConnectionsTotal:    h.connectionsTotal.Load(),
		ConnectionsActive:   h.connectionsActive.Load(),
		ConnectionsRejected: h.connectionsRejected.Load(),
		BytesReceived:       h.bytesReceived.Load(),
		BytesSent:           h.bytesSent.Load(),
		FramesReceived:      h.framesReceived.Load(),
		FramesSent:          h.framesSent.Load(),
		FramesDropped:       h.framesDropped.Load(),
	}
}

// Close rejects new connections, drops all sessions and waits for their
// writers. Safe to call more than once.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.shut {
		h.mu.Unlock()
		return nil
	}
	h.shut = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, s := range sessions {
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.close()
	}
	h.wg.Wait()
	h.logger.Infow("websocket handler stopped")
	return nil
}
