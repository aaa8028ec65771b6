// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_service is the telephony facade: it owns the session
// table that ties provider call legs, media connections, call contexts
// and conversation engines together. Transports and the PBX event socket
// are bound to it once at startup; after that every call, inbound or
// outbound, flows through StartInbound / StartOutbound / EndCall.
package internal_service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	internal_recorder "github.com/praxisvoice/api/agent-api/internal/audio/recorder"
	internal_vad "github.com/praxisvoice/api/agent-api/internal/audio/vad"
	internal_callcontext "github.com/praxisvoice/api/agent-api/internal/callcontext"
	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

// Backend selects how calls reach this node.
type Backend string

const (
	// BackendWebhook answers provider webhooks and waits for the
	// provider to connect media (Twilio streams, sipgate io).
	BackendWebhook Backend = "webhook"
	// BackendFreeswitch drives a FreeSWITCH over its event socket.
	BackendFreeswitch Backend = "freeswitch"
	// BackendSIP registers our own SIP endpoint and carries RTP itself.
	BackendSIP Backend = "sip"
)

// Provider labels stamped onto call contexts.
const (
	ProviderFreeswitch = "freeswitch"
	ProviderTwilio     = "twilio"
	ProviderSipgate    = "sipgate"
	ProviderSIP        = "sip"
	ProviderWebSocket  = "websocket"
)

// ParamCallID names the TwiML <Parameter> that carries our call id into
// the media stream start message.
const ParamCallID = "callId"

var (
	ErrMissingDep  = errors.New("service: missing dependency")
	ErrUnknownCall = errors.New("service: unknown call")
	ErrClosed      = errors.New("service: closed")
	// ErrMediaNeverConnected reports an answered call whose media socket
	// never arrived within the claim window.
	ErrMediaNeverConnected = errors.New("service: media never connected")
)

// persistTimeout bounds the database writes done on call teardown.
const persistTimeout = 5 * time.Second

// claimPollInterval paces the channel-id lookup retries while an
// answered trunk leg waits for its session registration.
const claimPollInterval = 25 * time.Millisecond

// Config tunes the facade. BridgeHost/BridgePort are the address
// advertised to the PBX for media sockets, which is not necessarily the
// address the bridge listens on.
type Config struct {
	Backend    Backend `mapstructure:"backend" validate:"omitempty,oneof=webhook freeswitch sip"`
	BridgeHost string  `mapstructure:"bridge_host"`
	BridgePort int     `mapstructure:"bridge_port" validate:"omitempty,min=1,max=65535"`

	// ClaimTimeout bounds how long an answered call may wait for its
	// media connection before the session is failed.
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`

	// RecordCalls captures both tracks of every call for later review.
	RecordCalls bool `mapstructure:"record_calls"`

	// PracticeName is spoken by greetings and campaign scripts.
	PracticeName string `mapstructure:"practice_name"`

	Engine   internal_conversation.Config `mapstructure:"engine"`
	Outbound OutboundConfig               `mapstructure:"outbound"`
}

// OutboundConfig shapes the campaign policies built for dialer calls.
type OutboundConfig struct {
	Templates      map[string]string `mapstructure:"templates"`
	TransferTarget string            `mapstructure:"transfer_target"`
	MaxTurns       int               `mapstructure:"max_turns"`
}

func DefaultConfig() Config {
	return Config{
		Backend:      BackendWebhook,
		BridgeHost:   "127.0.0.1",
		BridgePort:   9090,
		ClaimTimeout: 15 * time.Second,
		Engine:       internal_conversation.DefaultConfig(),
	}
}

// Dependencies wires the facade's collaborators. STT, TTS and Policies
// are required; everything else degrades to in-memory or no-op behaviour
// when absent.
type Dependencies struct {
	STT      internal_capability.SpeechToText
	TTS      internal_capability.TextToSpeech
	Policies internal_conversation.PolicyFactory

	// Store persists call contexts; nil keeps sessions in memory only.
	Store internal_callcontext.Store
	// Repository records finished dial attempts (see OnDialDone).
	Repository internal_capability.Repository
	// RecordingSink receives both WAV tracks when a recorded call ends.
	// Nil discards recordings after logging their sizes.
	RecordingSink func(callID string, callerWAV, agentWAV []byte)
	// NewRecorder overrides the default per-call timeline recorder.
	NewRecorder func() (internal_type.Recorder, error)
	// NewVAD builds the per-call voice activity detector. Nil leaves the
	// engine on its energy detector. Detectors keep per-call state, so
	// this is a factory rather than a shared instance.
	NewVAD func() internal_vad.VAD
	Clock  internal_capability.Clock
}

// MediaBinding is the send side of one media channel. The TCP bridge,
// the browser WebSocket handler, Twilio streams and the SIP media layer
// expose different surfaces, so everything beyond Send is optional.
type MediaBinding struct {
	Send       func(mediaID string, samples []float32) bool
	Text       func(mediaID, text string) bool
	Transcript func(mediaID, text string, isFinal bool) bool
	Flush      func(mediaID string)
	Close      func(mediaID string)
}

// session is one live call: an engine plus whatever identities the
// transport and provider gave it.
type session struct {
	callID      string
	channelUUID string
	provider    string
	direction   internal_type.CallDirection
	engine      *internal_conversation.Engine
	recorder    internal_type.Recorder
	startedAt   time.Time

	// mediaID and media are set once the media connection is claimed.
	mediaID string
	media   MediaBinding

	claimed    chan struct{}
	claimTimer *time.Timer
	failed     bool
}

// Service is the telephony facade.
type Service struct {
	cfg    Config
	deps   Dependencies
	logger commons.Logger

	esl eventSocket

	mu        sync.Mutex
	sessions  map[string]*session // keyed by call id
	byMedia   map[string]string   // media session id -> call id
	byChannel map[string]string   // provider channel id -> call id
	awaiting  []*session          // answered calls waiting for their media socket
	closed    bool

	runCtx    context.Context
	runCancel context.CancelFunc

	sessionsStarted atomic.Uint64
	sessionsEnded   atomic.Uint64
	claimTimeouts   atomic.Uint64
	mediaOrphans    atomic.Uint64
	attemptsSaved   atomic.Uint64
}

func New(cfg Config, deps Dependencies, logger commons.Logger) (*Service, error) {
	if deps.STT == nil || deps.TTS == nil || deps.Policies == nil {
		return nil, ErrMissingDep
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = internal_capability.SystemClock()
	}
	def := DefaultConfig()
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if cfg.BridgeHost == "" {
		cfg.BridgeHost = def.BridgeHost
	}
	if cfg.BridgePort <= 0 {
		cfg.BridgePort = def.BridgePort
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		sessions:  make(map[string]*session),
		byMedia:   make(map[string]string),
		byChannel: make(map[string]string),
		runCtx:    ctx,
		runCancel: cancel,
	}, nil
}

// Start connects the PBX event socket when one is bound. The media
// transports are started by whoever owns them.
func (s *Service) Start(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.esl != nil {
		if err := s.esl.Connect(ctx); err != nil {
			return fmt.Errorf("service: connect event socket: %w", err)
		}
	}
	return nil
}

// Close ends every active session and shuts the facade down. Safe to
// call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		active = append(active, sess)
	}
	s.mu.Unlock()

	for _, sess := range active {
		sess.engine.End("service shutdown")
	}
	s.runCancel()
	if s.esl != nil {
		return s.esl.Close()
	}
	return nil
}

// BridgeAddr is the media socket address advertised to the PBX.
func (s *Service) BridgeAddr() string {
	return net.JoinHostPort(s.cfg.BridgeHost, strconv.Itoa(s.cfg.BridgePort))
}

// InboundCall describes a call a provider wants us to answer.
type InboundCall struct {
	// ChannelUUID is the provider's leg id: a FreeSWITCH channel UUID,
	// a Twilio CallSid or a SIP Call-ID.
	ChannelUUID string
	Caller      string
	Callee      string
	Provider    string
	Language    string
	Metadata    map[string]string
}

// MediaAnswer tells the provider where to send media and which id to
// quote when it does.
type MediaAnswer struct {
	CallID     string `json:"call_id"`
	BridgeHost string `json:"bridge_host"`
	BridgePort int    `json:"bridge_port"`
}

// StartInbound registers an inbound call, persists its context and, on
// the FreeSWITCH backend, answers the channel and points its media at
// the bridge. The conversation itself starts when media arrives.
func (s *Service) StartInbound(ctx context.Context, req InboundCall) (*MediaAnswer, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	callID := uuid.NewString()
	meta := map[string]string{"provider": req.Provider}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	info := internal_type.CallInfo{
		ID:        callID,
		ChannelID: req.ChannelUUID,
		Direction: internal_type.DirectionInbound,
		From:      req.Caller,
		To:        req.Callee,
		StartedAt: s.deps.Clock.Now(),
		Metadata:  meta,
	}
	policy, err := s.deps.Policies(info)
	if err != nil {
		return nil, fmt.Errorf("service: build policy: %w", err)
	}
	sess, err := s.newSession(info, policy, req.Provider, req.Language)
	if err != nil {
		return nil, err
	}

	if s.deps.Store != nil {
		cc := &internal_callcontext.CallContext{
			ContextID:    callID,
			Status:       internal_callcontext.StatusPending,
			Provider:     req.Provider,
			Direction:    string(internal_type.DirectionInbound),
			CallerNumber: req.Caller,
			CalleeNumber: req.Callee,
			Language:     req.Language,
			ChannelUUID:  req.ChannelUUID,
		}
		if _, err := s.deps.Store.Save(ctx, cc); err != nil {
			// The call can still run without the durable row.
			s.logger.Errorw("service: persist call context", "error", err, "call_id", callID)
		}
	}

	s.registerAwaiting(sess)

	if s.esl != nil && req.Provider == ProviderFreeswitch && req.ChannelUUID != "" {
		if err := s.esl.Answer(ctx, req.ChannelUUID); err != nil {
			s.failUnclaimed(callID, "answer failed")
			return nil, fmt.Errorf("service: answer channel: %w", err)
		}
		if err := s.esl.StreamToSocket(ctx, req.ChannelUUID, s.BridgeAddr()); err != nil {
			s.failUnclaimed(callID, "media attach failed")
			return nil, fmt.Errorf("service: attach media: %w", err)
		}
	}

	s.logger.Infow("inbound call registered",
		"call_id", callID,
		"provider", req.Provider,
		"channel_uuid", req.ChannelUUID,
		"caller", utils.MaskPhoneNumber(req.Caller))
	return &MediaAnswer{CallID: callID, BridgeHost: s.cfg.BridgeHost, BridgePort: s.cfg.BridgePort}, nil
}

// EndCall ends a live call. The engine's shutdown cascade persists the
// transcript, completes the context and releases the media channel.
func (s *Service) EndCall(callID, reason string) error {
	sess := s.session(callID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	sess.engine.End(reason)
	return nil
}

// HandleMediaConnect pairs an anonymous media connection with the oldest
// call still waiting for one. The bridge cannot tell us which channel a
// socket belongs to, so ordering is the contract: the PBX connects media
// in the order we asked for it.
func (s *Service) HandleMediaConnect(mediaID string, media MediaBinding) {
	for {
		s.mu.Lock()
		if len(s.awaiting) == 0 {
			s.mu.Unlock()
			s.mediaOrphans.Add(1)
			s.logger.Warnw("service: media connection without a waiting call", "media_id", mediaID)
			return
		}
		sess := s.awaiting[0]
		s.awaiting = s.awaiting[1:]
		s.mu.Unlock()

		if s.deps.Store != nil {
			ctx, cancel := context.WithTimeout(s.runCtx, persistTimeout)
			_, err := s.deps.Store.Claim(ctx, sess.callID)
			cancel()
			if errors.Is(err, internal_callcontext.ErrNotClaimable) {
				// Another node won this context; its claim timer will
				// clean the local session up.
				s.logger.Warnw("service: call context already claimed", "call_id", sess.callID)
				continue
			}
			if err != nil {
				s.logger.Errorw("service: claim call context", "error", err, "call_id", sess.callID)
			}
		}
		s.bindMedia(sess, mediaID, media)
		return
	}
}

// HandleMediaAudio feeds caller audio into the session bound to this
// media connection. Unknown ids are dropped silently: frames race
// teardown by design.
func (s *Service) HandleMediaAudio(mediaID string, samples []float32) {
	s.mu.Lock()
	sess := s.sessions[s.byMedia[mediaID]]
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if sess.recorder != nil {
		_ = sess.recorder.Record(context.Background(), internal_type.Packet{
			Track:   internal_type.TrackCaller,
			Samples: samples,
			At:      s.deps.Clock.Now(),
		})
	}
	sess.engine.OnInboundAudio(samples)
}

// HandleMediaDisconnect ends the call bound to a media connection. A
// dropped socket means the far side is gone.
func (s *Service) HandleMediaDisconnect(mediaID string) {
	s.mu.Lock()
	callID, ok := s.byMedia[mediaID]
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.EndCall(callID, "media disconnected")
}

// claimCall binds a media connection to one specific call. Transports
// that carry our call id (Twilio streams, SIP media) use this instead of
// the FIFO pairing.
func (s *Service) claimCall(callID, mediaID string, media MediaBinding) bool {
	s.mu.Lock()
	sess := s.sessions[callID]
	if sess == nil || sess.mediaID != "" {
		s.mu.Unlock()
		return false
	}
	s.removeAwaitingLocked(sess)
	s.mu.Unlock()

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(s.runCtx, persistTimeout)
		_, err := s.deps.Store.Claim(ctx, callID)
		cancel()
		if errors.Is(err, internal_callcontext.ErrNotClaimable) {
			s.logger.Warnw("service: call context already claimed", "call_id", callID)
			return false
		}
		if err != nil {
			s.logger.Errorw("service: claim call context", "error", err, "call_id", callID)
		}
	}
	s.bindMedia(sess, mediaID, media)
	return true
}

func (s *Service) bindMedia(sess *session, mediaID string, media MediaBinding) {
	s.mu.Lock()
	if sess.mediaID != "" {
		s.mu.Unlock()
		s.logger.Warnw("service: call already carries media",
			"call_id", sess.callID, "media_id", mediaID)
		return
	}
	sess.mediaID = mediaID
	sess.media = media
	s.byMedia[mediaID] = sess.callID
	s.mu.Unlock()

	if sess.claimTimer != nil {
		sess.claimTimer.Stop()
	}
	if sess.recorder != nil {
		sess.recorder.Start()
	}
	close(sess.claimed)
	if err := sess.engine.Start(s.runCtx); err != nil {
		s.logger.Errorw("service: engine start", "error", err, "call_id", sess.callID)
		sess.engine.End("engine start failed")
		return
	}
	s.logger.Infow("media connected", "call_id", sess.callID, "media_id", mediaID)
}

func (s *Service) newSession(info internal_type.CallInfo, policy internal_conversation.Policy, provider, language string) (*session, error) {
	engCfg := s.cfg.Engine
	if language != "" {
		engCfg.Language = language
	}
	engDeps := internal_conversation.Dependencies{
		STT:      s.deps.STT,
		TTS:      s.deps.TTS,
		Policy:   policy,
		Observer: &sessionObserver{svc: s},
	}
	if s.deps.NewVAD != nil {
		engDeps.VAD = s.deps.NewVAD()
	}
	eng, err := internal_conversation.New(info, engCfg, engDeps, s.logger)
	if err != nil {
		return nil, fmt.Errorf("service: build engine: %w", err)
	}
	sess := &session{
		callID:      info.ID,
		channelUUID: info.ChannelID,
		provider:    provider,
		direction:   info.Direction,
		engine:      eng,
		claimed:     make(chan struct{}),
		startedAt:   s.deps.Clock.Now(),
	}
	if s.cfg.RecordCalls {
		rec, err := s.buildRecorder()
		if err != nil {
			s.logger.Warnw("service: recorder unavailable", "error", err, "call_id", info.ID)
		} else {
			sess.recorder = rec
		}
	}
	return sess, nil
}

func (s *Service) buildRecorder() (internal_type.Recorder, error) {
	if s.deps.NewRecorder != nil {
		return s.deps.NewRecorder()
	}
	return internal_recorder.NewTimelineRecorder(s.logger)
}

func (s *Service) registerAwaiting(sess *session) {
	s.mu.Lock()
	s.sessions[sess.callID] = sess
	if sess.channelUUID != "" {
		s.byChannel[sess.channelUUID] = sess.callID
	}
	s.awaiting = append(s.awaiting, sess)
	s.mu.Unlock()

	s.sessionsStarted.Add(1)
	callID := sess.callID
	sess.claimTimer = time.AfterFunc(s.cfg.ClaimTimeout, func() {
		s.failUnclaimed(callID, "media never connected")
	})
}

// failUnclaimed fails a session whose media never arrived. Returns false
// when the session is gone or already carrying media.
func (s *Service) failUnclaimed(callID, reason string) bool {
	s.mu.Lock()
	sess := s.sessions[callID]
	if sess == nil || sess.mediaID != "" {
		s.mu.Unlock()
		return false
	}
	sess.failed = true
	s.removeAwaitingLocked(sess)
	s.mu.Unlock()

	s.claimTimeouts.Add(1)
	s.logger.Warnw("service: failing unclaimed call",
		"call_id", callID, "channel_uuid", sess.channelUUID, "reason", reason)
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.deps.Store.UpdateField(ctx, callID, "status", internal_callcontext.StatusFailed); err != nil {
			s.logger.Warnw("service: mark call context failed", "error", err, "call_id", callID)
		}
		cancel()
	}
	sess.engine.End(reason)
	return true
}

// finishSession is the single teardown path, reached through the
// engine's OnEnded callback: it unregisters the session, persists what
// the call produced and releases the provider leg.
func (s *Service) finishSession(callID string, info internal_type.CallInfo, history []internal_type.Turn) {
	s.mu.Lock()
	sess := s.sessions[callID]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, callID)
	if sess.mediaID != "" {
		delete(s.byMedia, sess.mediaID)
	}
	if sess.channelUUID != "" {
		delete(s.byChannel, sess.channelUUID)
	}
	s.removeAwaitingLocked(sess)
	s.mu.Unlock()

	if sess.claimTimer != nil {
		sess.claimTimer.Stop()
	}
	s.sessionsEnded.Add(1)

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if transcript := renderTranscript(history); transcript != "" {
			if err := s.deps.Store.UpdateField(ctx, callID, "transcript", transcript); err != nil {
				s.logger.Warnw("service: persist transcript", "error", err, "call_id", callID)
			}
		}
		if !sess.failed {
			if err := s.deps.Store.Complete(ctx, callID); err != nil {
				s.logger.Warnw("service: complete call context", "error", err, "call_id", callID)
			}
		}
		cancel()
	}

	if sess.recorder != nil {
		callerWAV, agentWAV, err := sess.recorder.Persist()
		switch {
		case err != nil:
			s.logger.Warnw("service: persist recording", "error", err, "call_id", callID)
		case s.deps.RecordingSink != nil:
			s.deps.RecordingSink(callID, callerWAV, agentWAV)
		default:
			s.logger.Debugw("service: recording discarded, no sink",
				"call_id", callID, "caller_bytes", len(callerWAV), "agent_bytes", len(agentWAV))
		}
	}

	if sess.mediaID != "" && sess.media.Close != nil {
		sess.media.Close(sess.mediaID)
	}

	// Release the PBX leg. The channel is usually already down when the
	// far side hung up first, so failures here are only worth a debug.
	if s.esl != nil && sess.provider == ProviderFreeswitch && sess.channelUUID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.esl.Hangup(ctx, sess.channelUUID, ""); err != nil {
			s.logger.Debugw("service: hangup after end", "error", err, "channel_uuid", sess.channelUUID)
		}
		cancel()
	}

	s.logger.Infow("call finished",
		"call_id", callID,
		"direction", info.Direction,
		"provider", sess.provider,
		"turns", len(history),
		"duration", s.deps.Clock.Now().Sub(sess.startedAt))
}

// transferCall hands the caller to a human target. Only PBX-backed calls
// can be transferred; everything else ends with an apology in the logs.
func (s *Service) transferCall(callID, target string) {
	sess := s.session(callID)
	if sess == nil {
		return
	}
	if s.esl == nil || sess.channelUUID == "" {
		s.logger.Warnw("service: transfer not supported on this channel",
			"call_id", callID, "provider", sess.provider, "target", target)
		sess.engine.End("transfer unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.esl.Transfer(ctx, sess.channelUUID, target, "", ""); err != nil {
		s.logger.Errorw("service: transfer failed", "error", err, "call_id", callID, "target", target)
		sess.engine.End("transfer failed")
		return
	}
	s.logger.Infow("call transferred", "call_id", callID, "target", target)
	// FreeSWITCH pulls the channel out of the socket application; the
	// media disconnect finishes the session.
}

func (s *Service) session(callID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[callID]
}

func (s *Service) mediaFor(callID string) (MediaBinding, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[callID]
	if sess == nil || sess.mediaID == "" {
		return MediaBinding{}, "", false
	}
	return sess.media, sess.mediaID, true
}

func (s *Service) forwardAgentAudio(callID string, samples []float32) {
	s.mu.Lock()
	sess := s.sessions[callID]
	var media MediaBinding
	var mediaID string
	var rec internal_type.Recorder
	if sess != nil {
		media, mediaID, rec = sess.media, sess.mediaID, sess.recorder
	}
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if mediaID != "" && media.Send != nil {
		if !media.Send(mediaID, samples) {
			s.logger.Debugw("service: agent audio dropped", "call_id", callID)
		}
	}
	if rec != nil {
		_ = rec.Record(context.Background(), internal_type.Packet{
			Track:   internal_type.TrackAgent,
			Samples: samples,
			At:      s.deps.Clock.Now(),
		})
	}
}

func (s *Service) removeAwaitingLocked(sess *session) {
	for i, a := range s.awaiting {
		if a == sess {
			s.awaiting = append(s.awaiting[:i], s.awaiting[i+1:]...)
			return
		}
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func renderTranscript(history []internal_type.Turn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for i, turn := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String()
}

// CallSnapshot is one row of the active-call listing.
type CallSnapshot struct {
	CallID      string                      `json:"call_id"`
	ChannelUUID string                      `json:"channel_uuid,omitempty"`
	Provider    string                      `json:"provider"`
	Direction   internal_type.CallDirection `json:"direction"`
	State       internal_type.CallState     `json:"state"`
	StartedAt   time.Time                   `json:"started_at"`
}

// ActiveCalls lists live sessions, oldest first.
func (s *Service) ActiveCalls() []CallSnapshot {
	s.mu.Lock()
	snaps := make([]CallSnapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snaps = append(snaps, CallSnapshot{
			CallID:      sess.callID,
			ChannelUUID: sess.channelUUID,
			Provider:    sess.provider,
			Direction:   sess.direction,
			State:       sess.engine.State(),
			StartedAt:   sess.startedAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].StartedAt.Before(snaps[j].StartedAt) })
	return snaps
}

// Stats is a point-in-time snapshot of the facade's counters.
type Stats struct {
	ActiveCalls     int
	AwaitingMedia   int
	SessionsStarted uint64
	SessionsEnded   uint64
	ClaimTimeouts   uint64
	MediaOrphans    uint64
	AttemptsSaved   uint64
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	active := len(s.sessions)
	waiting := len(s.awaiting)
	s.mu.Unlock()
	return Stats{
		ActiveCalls:     active,
		AwaitingMedia:   waiting,
		SessionsStarted: s.sessionsStarted.Load(),
		SessionsEnded:   s.sessionsEnded.Load(),
		ClaimTimeouts:   s.claimTimeouts.Load(),
		MediaOrphans:    s.mediaOrphans.Load(),
		AttemptsSaved:   s.attemptsSaved.Load(),
	}
}
