// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_websocket

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

type capturedAudio struct {
	sessionID string
	samples   []float32
}

type wsHarness struct {
	handler *Handler
	server  *httptest.Server

	mu          sync.Mutex
	audio       []capturedAudio
	connects    []string
	disconnects []string
}

func newTestHandler(t *testing.T, cfg Config, opts ...Option) *wsHarness {
	t.Helper()
	h := &wsHarness{}
	h.handler = NewHandler(cfg, commons.NewNopLogger(), opts...)
	h.handler.SetOnAudio(func(sessionID string, samples []float32) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.audio = append(h.audio, capturedAudio{sessionID: sessionID, samples: samples})
	})
	h.handler.SetOnConnect(func(sessionID string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.connects = append(h.connects, sessionID)
	})
	h.handler.SetOnDisconnect(func(sessionID string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.disconnects = append(h.disconnects, sessionID)
	})
	h.server = httptest.NewServer(http.HandlerFunc(h.handler.Handle))
	t.Cleanup(func() {
		h.handler.Close()
		h.server.Close()
	})
	return h
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *wsHarness) audioCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.audio)
}

func (h *wsHarness) audioAt(i int) capturedAudio {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audio[i]
}

func (h *wsHarness) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

// readEvent returns the next JSON message, skipping binary frames.
func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
}

// readEventOfType skips messages until one with the wanted type arrives.
func readEventOfType(t *testing.T, conn *websocket.Conn, want MessageType) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m := readEvent(t, conn)
		if m["type"] == string(want) {
			return m
		}
	}
	t.Fatalf("no %q event before deadline", want)
	return nil
}

// readBinary returns the next binary frame, skipping JSON messages.
func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.BinaryMessage {
			return data
		}
	}
}

func sendControl(t *testing.T, conn *websocket.Conn, msgType MessageType) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"type": string(msgType)})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// pcmFrame builds one 20ms little-endian PCM frame at 16 kHz with every
// sample set to value.
func pcmFrame(value int16) []byte {
	out := make([]byte, 640)
	for i := 0; i < 320; i++ {
		out[2*i] = byte(value)
		out[2*i+1] = byte(value >> 8)
	}
	return out
}

// =============================================================================
// Session handshake and control protocol
// =============================================================================

func TestHandlerSendsConnectedEvent(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)

	m := readEventOfType(t, conn, TypeConnected)
	assert.NotEmpty(t, m["session_id"])
	assert.EqualValues(t, 16000, m["sample_rate"])
	assert.EqualValues(t, 20, m["frame_duration_ms"])

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.connects) == 1
	}, 2*time.Second, 5*time.Millisecond)
	h.mu.Lock()
	assert.Equal(t, m["session_id"], h.connects[0])
	h.mu.Unlock()
}

func TestHandlerStartStopStatus(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	readEventOfType(t, conn, TypeConnected)

	sendControl(t, conn, TypeStart)
	readEventOfType(t, conn, TypeAudioStart)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcmFrame(4096)))

	sendControl(t, conn, TypeStatus)
	m := readEventOfType(t, conn, TypeStatus)
	assert.Equal(t, true, m["audio_started"])
	assert.EqualValues(t, 640, m["bytes_received"])
	assert.EqualValues(t, 1, m["frames_received"])
	assert.EqualValues(t, 0, m["frames_sent"])

	sendControl(t, conn, TypeStop)
	readEventOfType(t, conn, TypeAudioEnd)

	sendControl(t, conn, TypeStatus)
	m = readEventOfType(t, conn, TypeStatus)
	assert.Equal(t, false, m["audio_started"])
}

func TestHandlerRejectsInvalidJSON(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	readEventOfType(t, conn, TypeConnected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	m := readEventOfType(t, conn, TypeError)
	assert.Equal(t, "Invalid JSON", m["error"])

	// The session survives a malformed message.
	sendControl(t, conn, TypeStatus)
	readEventOfType(t, conn, TypeStatus)
}

// =============================================================================
// Inbound audio
// =============================================================================

func TestHandlerAutoStartsOnBinaryFrame(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	readEventOfType(t, conn, TypeConnected)

	// No start control message: the first binary frame opens the stream.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcmFrame(4096)))

	require.Eventually(t, func() bool {
		return h.audioCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	got := h.audioAt(0)
	require.Len(t, got.samples, 320)
	assert.InDelta(t, 0.125, got.samples[0], 0.0001)

	sendControl(t, conn, TypeStatus)
	m := readEventOfType(t, conn, TypeStatus)
	assert.Equal(t, true, m["audio_started"])
	assert.Equal(t, got.sessionID, m["session_id"])
}

func TestHandlerAcceptsBase64AudioMessage(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	readEventOfType(t, conn, TypeConnected)

	payload, err := json.Marshal(map[string]any{
		"type":            "audio",
		"data":            base64.StdEncoding.EncodeToString(pcmFrame(-8192)),
		"sample_rate":     16000,
		"channels":        1,
		"bits_per_sample": 16,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	require.Eventually(t, func() bool {
		return h.audioCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	got := h.audioAt(0)
	require.Len(t, got.samples, 320)
	assert.InDelta(t, -0.25, got.samples[0], 0.0001)
}

func TestHandlerRejectsBadBase64Audio(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	readEventOfType(t, conn, TypeConnected)

	payload := []byte(`{"type":"audio","data":"%%%not-base64%%%"}`)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	m := readEventOfType(t, conn, TypeError)
	assert.Equal(t, "invalid audio payload", m["error"])
	assert.Equal(t, 0, h.audioCount())
}

// =============================================================================
// Outbound audio
// =============================================================================

func TestHandlerSendAudioPacedBinaryFrames(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), WithFrameInterval(2*time.Millisecond))
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	// 100ms of agent audio becomes five 640-byte frames.
	require.True(t, h.handler.SendAudio(sid, make([]float32, 1600)))

	total := 0
	for i := 0; i < 5; i++ {
		frame := readBinary(t, conn)
		assert.Len(t, frame, 640)
		total += len(frame)
	}
	assert.Equal(t, 3200, total)

	assert.False(t, h.handler.SendAudio("no-such-session", make([]float32, 320)))
}

func TestHandlerSendAudioAsJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JSONAudio = true
	h := newTestHandler(t, cfg, WithFrameInterval(2*time.Millisecond))
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	require.True(t, h.handler.SendAudio(sid, make([]float32, 320)))

	ev := readEventOfType(t, conn, TypeAudio)
	data, err := base64.StdEncoding.DecodeString(ev["data"].(string))
	require.NoError(t, err)
	assert.Len(t, data, 640)
	assert.EqualValues(t, 16000, ev["sample_rate"])
	assert.EqualValues(t, 16, ev["bits_per_sample"])
}

func TestHandlerResamplesClientRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 8000
	h := newTestHandler(t, cfg, WithFrameInterval(2*time.Millisecond))
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)
	assert.EqualValues(t, 8000, m["sample_rate"])

	// 160 samples at 8 kHz in -> 320 engine samples out.
	in := make([]byte, 320)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, in))
	require.Eventually(t, func() bool {
		return h.audioCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.audioAt(0).samples, 320)

	// 320 engine samples back out -> one 320-byte frame at 8 kHz.
	require.True(t, h.handler.SendAudio(sid, make([]float32, 320)))
	frame := readBinary(t, conn)
	assert.Len(t, frame, 320)
}

func TestHandlerFlushDropsQueuedAudio(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), WithFrameInterval(10*time.Millisecond))
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	// Three seconds of queued reply, far more than can drain before flush.
	require.True(t, h.handler.SendAudio(sid, make([]float32, 320*150)))
	readBinary(t, conn)

	h.handler.FlushAudio(sid)
	require.Eventually(t, func() bool {
		return h.handler.Stats().FramesDropped > 0
	}, 2*time.Second, 5*time.Millisecond)

	// Of the 1.5s reply, no more than 100ms may escape after the flush.
	require.True(t, h.handler.SendResponse(sid, "sind Sie noch dran?"))
	binaryBefore := 0
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.BinaryMessage {
			binaryBefore++
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev["type"] == string(TypeResponse) {
			break
		}
	}
	assert.Less(t, binaryBefore, 10)

	dropped := h.handler.Stats().FramesDropped
	assert.Greater(t, dropped, uint64(100))
}

// =============================================================================
// Events toward the client
// =============================================================================

func TestHandlerSendTranscriptAndResponse(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	require.True(t, h.handler.SendTranscript(sid, "ich möchte einen Termin", true))
	ev := readEventOfType(t, conn, TypeTranscript)
	assert.Equal(t, "ich möchte einen Termin", ev["text"])
	assert.Equal(t, true, ev["is_final"])

	require.True(t, h.handler.SendResponse(sid, "Gerne, wann passt es Ihnen?"))
	ev = readEventOfType(t, conn, TypeResponse)
	assert.Equal(t, "Gerne, wann passt es Ihnen?", ev["text"])

	assert.False(t, h.handler.SendTranscript("no-such-session", "x", false))
	assert.False(t, h.handler.SendResponse("no-such-session", "x"))
}

func TestObserverForwardsEngineEvents(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), WithFrameInterval(2*time.Millisecond))
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	obs := NewObserver(h.handler)
	obs.OnTranscript(sid, internal_type.Transcript{Text: "hallo", IsFinal: true})
	ev := readEventOfType(t, conn, TypeTranscript)
	assert.Equal(t, "hallo", ev["text"])

	obs.OnAgentText(sid, "Guten Tag!")
	ev = readEventOfType(t, conn, TypeResponse)
	assert.Equal(t, "Guten Tag!", ev["text"])

	obs.OnAgentAudio(sid, make([]float32, 320))
	frame := readBinary(t, conn)
	assert.Len(t, frame, 640)

	obs.OnEnded(sid, internal_type.CallInfo{ID: sid}, nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			break
		}
	}
}

// =============================================================================
// Connection cap and lifecycle
// =============================================================================

func TestHandlerRejectsOverCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	h := newTestHandler(t, cfg)

	first := h.dial(t)
	readEventOfType(t, first, TypeConnected)

	second := h.dial(t)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, "Max connections reached", closeErr.Text)

	stats := h.handler.Stats()
	assert.Equal(t, uint64(1), stats.ConnectionsTotal)
	assert.Equal(t, uint64(1), stats.ConnectionsRejected)
	assert.Equal(t, 1, h.handler.ActiveSessions())
}

func TestHandlerFreesSlotOnDisconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	h := newTestHandler(t, cfg)

	first := h.dial(t)
	m := readEventOfType(t, first, TypeConnected)
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return h.disconnectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	h.mu.Lock()
	assert.Equal(t, m["session_id"], h.disconnects[0])
	h.mu.Unlock()

	second := h.dial(t)
	readEventOfType(t, second, TypeConnected)
	assert.Equal(t, 1, h.handler.ActiveSessions())
}

func TestHandlerDisconnectStopsDelivery(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return h.disconnectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, h.handler.SendAudio(sid, make([]float32, 320)))
	assert.Equal(t, int64(0), h.handler.Stats().ConnectionsActive)
	assert.Empty(t, h.handler.SessionIDs())
}

func TestHandlerCloseIsIdempotent(t *testing.T) {
	h := newTestHandler(t, DefaultConfig())
	conn := h.dial(t)
	readEventOfType(t, conn, TypeConnected)

	require.NoError(t, h.handler.Close())
	require.NoError(t, h.handler.Close())

	require.Eventually(t, func() bool {
		return h.handler.Stats().ConnectionsActive == 0
	}, 2*time.Second, 5*time.Millisecond)

	// New connections are refused during shutdown.
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestHandlerStats(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), WithFrameInterval(2*time.Millisecond))
	conn := h.dial(t)
	m := readEventOfType(t, conn, TypeConnected)
	sid := m["session_id"].(string)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcmFrame(4096)))
	require.Eventually(t, func() bool {
		return h.audioCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.handler.SendAudio(sid, make([]float32, 320)))
	readBinary(t, conn)
	require.Eventually(t, func() bool {
		return h.handler.Stats().FramesSent == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats := h.handler.Stats()
	assert.Equal(t, uint64(1), stats.ConnectionsTotal)
	assert.Equal(t, int64(1), stats.ConnectionsActive)
	assert.Equal(t, uint64(640), stats.BytesReceived)
	assert.Equal(t, uint64(1), stats.FramesReceived)
	assert.Equal(t, uint64(640), stats.BytesSent)
}
