// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_service

import (
	"context"
	"strings"
	"time"

	internal_bridge "github.com/praxisvoice/api/agent-api/internal/bridge"
	internal_callcontext "github.com/praxisvoice/api/agent-api/internal/callcontext"
	internal_twilio_telephony "github.com/praxisvoice/api/agent-api/internal/channel/twilio"
	internal_websocket "github.com/praxisvoice/api/agent-api/internal/channel/websocket"
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_freeswitch "github.com/praxisvoice/api/agent-api/internal/pbx/freeswitch"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	sip_trunk "github.com/praxisvoice/api/agent-api/sip/trunk"
)

// eventSocket is the slice of the PBX event-socket client the service
// drives. Kept as an interface so tests can stand in for FreeSWITCH.
type eventSocket interface {
	Connect(ctx context.Context) error
	Close() error
	Answer(ctx context.Context, channelUUID string) error
	Hangup(ctx context.Context, channelUUID string, cause internal_freeswitch.HangupCause) error
	Transfer(ctx context.Context, channelUUID, destination, dialplan, dpContext string) error
	StreamToSocket(ctx context.Context, channelUUID, addr string) error
}

// BindPBX subscribes the service to FreeSWITCH channel events. Inbound
// channels become calls; hangups end whichever session owns the channel.
// Dialer-originated legs are skipped here, the dialer tracks its own.
func (s *Service) BindPBX(client *internal_freeswitch.Client) {
	s.esl = client
	client.On(internal_freeswitch.EventChannelCreate, func(ev internal_freeswitch.Event) {
		if !strings.EqualFold(ev.Header("Call-Direction"), "inbound") {
			return
		}
		// Event handlers run on the dispatch goroutine; call setup does
		// socket and database work.
		go s.handlePBXInbound(ev)
	})
	client.On(internal_freeswitch.EventChannelHangup, func(ev internal_freeswitch.Event) {
		s.mu.Lock()
		callID := s.byChannel[ev.ChannelUUID]
		s.mu.Unlock()
		if callID == "" {
			return
		}
		cause := string(ev.HangupCause())
		go func() {
			_ = s.EndCall(callID, "hangup: "+cause)
		}()
	})
}

func (s *Service) handlePBXInbound(ev internal_freeswitch.Event) {
	ctx, cancel := context.WithTimeout(s.runCtx, 2*persistTimeout)
	defer cancel()
	_, err := s.StartInbound(ctx, InboundCall{
		ChannelUUID: ev.ChannelUUID,
		Caller:      ev.CallerIDNumber,
		Callee:      ev.DestinationNumber,
		Provider:    ProviderFreeswitch,
	})
	if err != nil {
		s.logger.Errorw("service: inbound call setup failed",
			"error", err, "channel_uuid", ev.ChannelUUID)
		if err := s.esl.Hangup(ctx, ev.ChannelUUID, internal_freeswitch.CauseNormalTemporaryFailure); err != nil {
			s.logger.Debugw("service: hangup failed channel", "error", err, "channel_uuid", ev.ChannelUUID)
		}
	}
}

// BindBridge routes the PBX media socket through the session table.
// Bridge connections carry no identity, so connects are paired FIFO with
// calls awaiting media.
func (s *Service) BindBridge(b *internal_bridge.Bridge) {
	media := MediaBinding{Send: b.SendAudio}
	b.SetOnConnect(func(sessionID string) { s.HandleMediaConnect(sessionID, media) })
	b.SetOnAudio(s.HandleMediaAudio)
	b.SetOnDisconnect(s.HandleMediaDisconnect)
}

// BindWebSocket turns browser sessions into virtual calls. The socket
// session id doubles as the call id, so media is bound the moment the
// client connects.
func (s *Service) BindWebSocket(h *internal_websocket.Handler) {
	media := MediaBinding{
		Send:       h.SendAudio,
		Text:       h.SendResponse,
		Transcript: h.SendTranscript,
		Flush:      h.FlushAudio,
		Close:      h.CloseSession,
	}
	h.SetOnConnect(func(sessionID string) { s.startVirtual(sessionID, media) })
	h.SetOnAudio(s.HandleMediaAudio)
	h.SetOnDisconnect(s.HandleMediaDisconnect)
}

// BindTwilioStreams claims Twilio media streams for the calls their
// webhooks registered. The TwiML <Parameter> named ParamCallID carries
// the call id; older TwiML without it falls back to the CallSid the
// webhook stored as the channel id.
func (s *Service) BindTwilioStreams(h *internal_twilio_telephony.StreamHandler) {
	media := MediaBinding{
		Send:  h.SendAudio,
		Flush: h.FlushAudio,
		Close: h.CloseStream,
	}
	h.SetOnStart(func(info internal_twilio_telephony.StreamInfo) { s.handleTwilioStart(info, media) })
	h.SetOnAudio(s.HandleMediaAudio)
	h.SetOnStop(s.HandleMediaDisconnect)
}

func (s *Service) handleTwilioStart(info internal_twilio_telephony.StreamInfo, media MediaBinding) {
	callID := info.CustomParameters[ParamCallID]
	if callID == "" {
		s.mu.Lock()
		callID = s.byChannel[info.CallSid]
		s.mu.Unlock()
	}
	if callID == "" {
		s.mediaOrphans.Add(1)
		s.logger.Warnw("service: stream for unknown call",
			"stream_sid", info.StreamSid, "call_sid", info.CallSid)
		if media.Close != nil {
			media.Close(info.StreamSid)
		}
		return
	}
	if !s.claimCall(callID, info.StreamSid, media) {
		s.logger.Warnw("service: stream for finished or claimed call",
			"call_id", callID, "stream_sid", info.StreamSid)
		if media.Close != nil {
			media.Close(info.StreamSid)
		}
	}
}

// startVirtual registers a browser session as an inbound call. There is
// no provider leg and no separate claim step.
func (s *Service) startVirtual(sessionID string, media MediaBinding) {
	if s.isClosed() {
		return
	}
	info := internal_type.CallInfo{
		ID:        sessionID,
		ChannelID: sessionID,
		Direction: internal_type.DirectionInbound,
		StartedAt: s.deps.Clock.Now(),
		Metadata:  map[string]string{"provider": ProviderWebSocket},
	}
	policy, err := s.deps.Policies(info)
	if err != nil {
		s.logger.Errorw("service: build policy", "error", err, "session_id", sessionID)
		if media.Close != nil {
			media.Close(sessionID)
		}
		return
	}
	sess, err := s.newSession(info, policy, ProviderWebSocket, "")
	if err != nil {
		s.logger.Errorw("service: virtual call setup failed", "error", err, "session_id", sessionID)
		if media.Close != nil {
			media.Close(sessionID)
		}
		return
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(s.runCtx, persistTimeout)
		cc := &internal_callcontext.CallContext{
			ContextID: sessionID,
			Status:    internal_callcontext.StatusClaimed,
			Provider:  ProviderWebSocket,
			Direction: string(internal_type.DirectionInbound),
		}
		if _, err := s.deps.Store.Save(ctx, cc); err != nil {
			s.logger.Errorw("service: persist call context", "error", err, "call_id", sessionID)
		}
		cancel()
	}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	s.sessionsStarted.Add(1)

	s.bindMedia(sess, sessionID, media)
	s.logger.Infow("virtual call started", "call_id", sessionID)
}

// sessionObserver routes engine callbacks to the session's media binding
// and into the teardown path. One instance per engine.
type sessionObserver struct {
	internal_conversation.BaseObserver
	svc *Service
}

func (o *sessionObserver) OnTranscript(callID string, tr internal_type.Transcript) {
	media, mediaID, ok := o.svc.mediaFor(callID)
	if ok && media.Transcript != nil {
		media.Transcript(mediaID, tr.Text, tr.IsFinal)
	}
}

func (o *sessionObserver) OnAgentText(callID, text string) {
	media, mediaID, ok := o.svc.mediaFor(callID)
	if ok && media.Text != nil {
		media.Text(mediaID, text)
	}
}

func (o *sessionObserver) OnAgentAudio(callID string, samples []float32) {
	o.svc.forwardAgentAudio(callID, samples)
}

func (o *sessionObserver) OnInterrupt(callID string) {
	media, mediaID, ok := o.svc.mediaFor(callID)
	if ok && media.Flush != nil {
		media.Flush(mediaID)
	}
}

func (o *sessionObserver) OnTransfer(callID, target string) {
	o.svc.transferCall(callID, target)
}

func (o *sessionObserver) OnEnded(callID string, info internal_type.CallInfo, history []internal_type.Turn) {
	o.svc.finishSession(callID, info, history)
}

// BindSIPTrunk attaches a direct SIP trunk as the telephony backend.
// Inbound INVITEs become calls before they are answered; the answered
// hook claims media for both directions, keyed by the SIP Call-ID the
// session carries as its channel id.
func (s *Service) BindSIPTrunk(t *sip_trunk.Trunk) {
	media := MediaBinding{
		Send:  t.SendAudio,
		Flush: t.FlushAudio,
		Close: t.CloseCall,
	}
	t.SetOnInbound(func(sipCallID, caller, callee string) error {
		ctx, cancel := context.WithTimeout(s.runCtx, 2*persistTimeout)
		defer cancel()
		_, err := s.StartInbound(ctx, InboundCall{
			ChannelUUID: sipCallID,
			Caller:      caller,
			Callee:      callee,
			Provider:    ProviderSIP,
		})
		return err
	})
	t.SetOnAnswered(func(sipCallID string) { s.claimSIPMedia(sipCallID, media) })
	t.SetOnAudio(s.HandleMediaAudio)
	t.SetOnHangup(s.HandleMediaDisconnect)
}

// claimSIPMedia binds trunk media to the session owning the Call-ID. An
// outbound answer races the dialer's session registration, so the lookup
// retries inside the claim window instead of failing outright.
func (s *Service) claimSIPMedia(sipCallID string, media MediaBinding) {
	deadline := s.deps.Clock.Now().Add(s.cfg.ClaimTimeout)
	for {
		s.mu.Lock()
		callID := s.byChannel[sipCallID]
		s.mu.Unlock()
		if callID != "" {
			if !s.claimCall(callID, sipCallID, media) {
				s.logger.Warnw("service: sip media for finished or claimed call",
					"call_id", callID, "sip_call_id", sipCallID)
				media.Close(sipCallID)
			}
			return
		}
		if s.isClosed() || !s.deps.Clock.Now().Before(deadline) {
			s.mediaOrphans.Add(1)
			s.logger.Warnw("service: sip media for unknown call", "sip_call_id", sipCallID)
			media.Close(sipCallID)
			return
		}
		time.Sleep(claimPollInterval)
	}
}
