// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_websocket

import (
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
)

// Observer forwards conversation engine events onto the client socket.
// Virtual calls use the websocket session id as the engine call id, so the
// mapping is the identity.
type Observer struct {
	internal_conversation.BaseObserver
	handler *Handler
}

// NewObserver binds engine events to h.
func NewObserver(h *Handler) *Observer {
	return &Observer{handler: h}
}

func (o *Observer) OnTranscript(callID string, transcript internal_type.Transcript) {
	o.handler.SendTranscript(callID, transcript.Text, transcript.IsFinal)
}

func (o *Observer) OnAgentText(callID string, text string) {
	o.handler.SendResponse(callID, text)
}

func (o *Observer) OnAgentAudio(callID string, samples []float32) {
	o.handler.SendAudio(callID, samples)
}

func (o *Observer) OnInterrupt(callID string) {
	o.handler.FlushAudio(callID)
}

func (o *Observer) OnEnded(callID string, info internal_type.CallInfo, history []internal_type.Turn) {
	o.handler.CloseSession(callID)
}
