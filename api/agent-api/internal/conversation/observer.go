// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_conversation

import (
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
)

// SessionObserver receives everything a transport needs to know about one
// conversation. The engine never holds a transport reference; adapters
// register an observer at call setup and the engine emits through it.
//
// Callbacks arrive from engine goroutines and must return quickly;
// transports queue what they cannot deliver immediately.
type SessionObserver interface {
	// OnStateChange fires on every lifecycle transition.
	OnStateChange(callID string, from, to internal_type.CallState)

	// OnTranscript delivers each recognized caller utterance.
	OnTranscript(callID string, transcript internal_type.Transcript)

	// OnAgentText announces one agent sentence before its audio. Sentences
	// of one reply arrive in speaking order.
	OnAgentText(callID string, text string)

	// OnAgentAudio delivers the synthesized audio for the preceding
	// OnAgentText, mono float32 at the engine rate.
	OnAgentAudio(callID string, samples []float32)

	// OnInterrupt fires on barge-in. The transport must drop any queued
	// agent audio it has not yet written.
	OnInterrupt(callID string)

	// OnTransfer asks the transport layer to move the call to target.
	OnTransfer(callID string, target string)

	// OnEnded fires exactly once with the final transcript.
	OnEnded(callID string, info internal_type.CallInfo, history []internal_type.Turn)
}

// BaseObserver is a no-op SessionObserver for embedding. Adapters override
// only the callbacks they care about.
type BaseObserver struct{}

func (BaseObserver) OnStateChange(string, internal_type.CallState, internal_type.CallState) {}
func (BaseObserver) OnTranscript(string, internal_type.Transcript)                          {}
func (BaseObserver) OnAgentText(string, string)                                             {}
func (BaseObserver) OnAgentAudio(string, []float32)                                         {}
func (BaseObserver) OnInterrupt(string)                                                     {}
func (BaseObserver) OnTransfer(string, string)                                              {}
func (BaseObserver) OnEnded(string, internal_type.CallInfo, []internal_type.Turn)           {}
