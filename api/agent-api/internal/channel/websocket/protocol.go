// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_websocket

// MessageType tags every JSON frame of the browser audio protocol.
type MessageType string

const (
	// Control messages (client -> server)
	TypeStart  MessageType = "start"  // begin the audio session
	TypeStop   MessageType = "stop"   // end the audio session
	TypeStatus MessageType = "status" // request session counters

	// Audio messages
	TypeAudio      MessageType = "audio"       // base64 PCM inside JSON
	TypeAudioStart MessageType = "audio_start" // server ack for start
	TypeAudioEnd   MessageType = "audio_end"   // server ack for stop

	// Events (server -> client)
	TypeConnected    MessageType = "connected"
	TypeDisconnected MessageType = "disconnected"
	TypeError        MessageType = "error"
	TypeTranscript   MessageType = "transcript"
	TypeResponse     MessageType = "response"
)

// clientMessage is the superset of fields a client JSON frame may carry.
// Only Type is always present; the audio fields accompany TypeAudio and
// describe the base64 payload, which must already be at the session rate.
type clientMessage struct {
	Type          MessageType `json:"type"`
	Data          string      `json:"data"`
	SampleRate    int         `json:"sample_rate"`
	Channels      int         `json:"channels"`
	BitsPerSample int         `json:"bits_per_sample"`
	TimestampMs   int64       `json:"timestamp_ms"`
}

// Server events are flat JSON objects, one struct per message type.

type connectedEvent struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	SampleRate      int         `json:"sample_rate"`
	FrameDurationMs int         `json:"frame_duration_ms"`
}

type statusEvent struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	AudioStarted   bool        `json:"audio_started"`
	BytesReceived  uint64      `json:"bytes_received"`
	BytesSent      uint64      `json:"bytes_sent"`
	FramesReceived uint64      `json:"frames_received"`
	FramesSent     uint64      `json:"frames_sent"`
}

type transcriptEvent struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
}

type responseEvent struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type audioEvent struct {
	Type          MessageType `json:"type"`
	Data          string      `json:"data"`
	SampleRate    int         `json:"sample_rate"`
	Channels      int         `json:"channels"`
	BitsPerSample int         `json:"bits_per_sample"`
	TimestampMs   int64       `json:"timestamp_ms"`
}

type errorEvent struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// controlEvent carries type-only acknowledgements (audio_start, audio_end).
type controlEvent struct {
	Type MessageType `json:"type"`
}
