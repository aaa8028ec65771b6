// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_type

import "time"

// CallDirection distinguishes who initiated the call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// CallState is the lifecycle state of a conversation session.
type CallState string

const (
	CallStateNew          CallState = "new"
	CallStateGreeting     CallState = "greeting"
	CallStateListening    CallState = "listening"
	CallStateProcessing   CallState = "processing"
	CallStateSpeaking     CallState = "speaking"
	CallStateTransferring CallState = "transferring"
	CallStateEnded        CallState = "ended"
)

// TurnRole identifies the speaker of a conversation turn.
type TurnRole string

const (
	RoleCaller TurnRole = "caller"
	RoleAgent  TurnRole = "agent"
)

// Turn is one utterance in a conversation transcript.
type Turn struct {
	Role TurnRole  `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Transcript is the result of speech recognition over one utterance.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language"`
}

// Well-known metadata keys. Callers may attach arbitrary additional keys;
// unknown keys are preserved end to end.
const (
	MetaAppointmentDate = "appointment_date"
	MetaAppointmentTime = "appointment_time"
	MetaProviderName    = "provider_name"
)

// CallInfo identifies one live call across transports.
type CallInfo struct {
	ID        string            `json:"id"`
	ChannelID string            `json:"channel_id"` // PBX channel / stream identifier
	Direction CallDirection     `json:"direction"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	StartedAt time.Time         `json:"started_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CloneMetadata returns a copy of the metadata map, never nil.
func (c *CallInfo) CloneMetadata() map[string]string {
	out := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}
