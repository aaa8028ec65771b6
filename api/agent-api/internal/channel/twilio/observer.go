// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_twilio_telephony

import (
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
)

// Observer forwards conversation engine events onto a media stream. Engines
// behind Twilio calls use the stream SID as call id, so the mapping is the
// identity. Media Streams carry no text channel; transcripts and agent text
// stay server-side.
type Observer struct {
	internal_conversation.BaseObserver
	handler *StreamHandler
}

// NewObserver binds engine events to h.
func NewObserver(h *StreamHandler) *Observer {
	return &Observer{handler: h}
}

func (o *Observer) OnAgentAudio(callID string, samples []float32) {
	o.handler.SendAudio(callID, samples)
}

func (o *Observer) OnInterrupt(callID string) {
	o.handler.FlushAudio(callID)
}

func (o *Observer) OnEnded(callID string, info internal_type.CallInfo, history []internal_type.Turn) {
	o.handler.CloseStream(callID)
}
