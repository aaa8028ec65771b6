// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	internal_callcontext "github.com/praxisvoice/api/agent-api/internal/callcontext"
	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_dialer "github.com/praxisvoice/api/agent-api/internal/dialer"
	internal_outbound "github.com/praxisvoice/api/agent-api/internal/outbound"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
)

// Runner adapts the service into the dialer's conversation callback: the
// dialer originates and waits for answer, then hands the live leg here
// for the actual conversation.
func (s *Service) Runner() internal_dialer.ConversationRunner {
	return s.runOutbound
}

func (s *Service) runOutbound(ctx context.Context, call *internal_dialer.QueuedCall, channelUUID string) (internal_outbound.Outcome, error) {
	policy, err := s.campaignPolicy(call)
	if err != nil {
		return internal_outbound.OutcomeConversationFailed, err
	}
	sess, err := s.startOutbound(ctx, call, channelUUID, policy)
	if err != nil {
		return internal_outbound.OutcomeConversationFailed, err
	}

	// A PBX leg needs an explicit media attach; SIP trunks start RTP on
	// answer by themselves.
	if s.esl != nil {
		if err := s.esl.StreamToSocket(ctx, channelUUID, s.BridgeAddr()); err != nil {
			s.failUnclaimed(sess.callID, "media attach failed")
			return internal_outbound.OutcomeConversationFailed, fmt.Errorf("service: attach media: %w", err)
		}
	}

	select {
	case <-sess.claimed:
	case <-sess.engine.Done():
		// Either the claim window expired or the callee hung up before
		// media arrived. The claim races the end, so check it once more.
		select {
		case <-sess.claimed:
			return policy.Finalize(), nil
		default:
			return internal_outbound.OutcomeConversationFailed, ErrMediaNeverConnected
		}
	case <-ctx.Done():
		if !s.failUnclaimed(sess.callID, "dial cancelled") {
			sess.engine.End("dial cancelled")
		}
		return internal_outbound.OutcomeConversationFailed, ctx.Err()
	}

	// The conversation runs until the engine ends it or the dialer's
	// call budget expires.
	select {
	case <-sess.engine.Done():
	case <-ctx.Done():
		sess.engine.End("call budget exhausted")
		<-sess.engine.Done()
	}
	return policy.Finalize(), nil
}

// OutboundStart describes one answered outbound leg.
type OutboundStart struct {
	Call        *internal_dialer.QueuedCall
	ChannelUUID string
	// Policy overrides the campaign policy derived from Call.
	Policy internal_conversation.Policy
}

// StartOutbound registers an answered outbound call and returns its call
// id. Most callers want Runner instead, which also drives the
// conversation to completion.
func (s *Service) StartOutbound(ctx context.Context, req OutboundStart) (string, error) {
	if req.Call == nil {
		return "", fmt.Errorf("service: outbound start needs a queued call")
	}
	policy := req.Policy
	if policy == nil {
		p, err := s.campaignPolicy(req.Call)
		if err != nil {
			return "", err
		}
		policy = p
	}
	sess, err := s.startOutbound(ctx, req.Call, req.ChannelUUID, policy)
	if err != nil {
		return "", err
	}
	return sess.callID, nil
}

func (s *Service) startOutbound(ctx context.Context, call *internal_dialer.QueuedCall, channelUUID string, policy internal_conversation.Policy) (*session, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	callID := uuid.NewString()
	info := internal_type.CallInfo{
		ID:        callID,
		ChannelID: channelUUID,
		Direction: internal_type.DirectionOutbound,
		To:        call.Patient.Phone,
		StartedAt: s.deps.Clock.Now(),
		Metadata: map[string]string{
			"provider":      string(s.cfg.Backend),
			"campaign_id":   call.ID,
			"campaign_type": string(call.Campaign),
			"subject_id":    call.Patient.ID,
		},
	}
	sess, err := s.newSession(info, policy, string(s.cfg.Backend), "")
	if err != nil {
		return nil, err
	}

	if s.deps.Store != nil {
		cc := &internal_callcontext.CallContext{
			ContextID:    callID,
			Status:       internal_callcontext.StatusQueued,
			Provider:     string(s.cfg.Backend),
			Direction:    string(internal_type.DirectionOutbound),
			CalleeNumber: call.Patient.Phone,
			ChannelUUID:  channelUUID,
			SubjectID:    call.Patient.ID,
			CampaignID:   call.ID,
			CampaignType: string(call.Campaign),
			Attempt:      call.Attempt,
		}
		if _, err := s.deps.Store.Save(ctx, cc); err != nil {
			s.logger.Errorw("service: persist call context", "error", err, "call_id", callID)
		}
	}

	s.registerAwaiting(sess)
	return sess, nil
}

func (s *Service) campaignPolicy(call *internal_dialer.QueuedCall) (*internal_outbound.CampaignPolicy, error) {
	return internal_outbound.NewCampaignPolicy(internal_outbound.PolicyConfig{
		Campaign:       call.Campaign,
		PracticeName:   s.cfg.PracticeName,
		Patient:        call.Patient,
		Appointment:    call.Appointment,
		Templates:      s.cfg.Outbound.Templates,
		TransferTarget: s.cfg.Outbound.TransferTarget,
		MaxTurns:       s.cfg.Outbound.MaxTurns,
	}, s.deps.Clock, s.logger)
}

// OnDialDone records a finished dial attempt. Wire it as the dialer's
// completion hook.
func (s *Service) OnDialDone(result internal_dialer.CallResult) {
	if s.deps.Repository == nil {
		return
	}
	details := make(map[string]string)
	if result.CampaignOutcome != "" {
		details["campaign_outcome"] = string(result.CampaignOutcome)
	}
	if result.Err != nil {
		details["error"] = result.Err.Error()
	}
	attempt := internal_capability.CallAttempt{
		CallID:       result.CallID,
		SubjectID:    result.Call.Patient.ID,
		PhoneNumber:  result.Call.Patient.Phone,
		CampaignID:   result.Call.ID,
		CampaignType: string(result.Call.Campaign),
		Attempt:      result.Call.Attempt,
		Outcome:      string(result.Outcome),
		At:           result.FinishedAt,
		Details:      details,
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.deps.Repository.SaveAttempt(ctx, attempt); err != nil {
		s.logger.Errorw("service: record dial attempt",
			"error", err, "subject_id", result.Call.Patient.ID, "outcome", result.Outcome)
		return
	}
	s.attemptsSaved.Add(1)
}
