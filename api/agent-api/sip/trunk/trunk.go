// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package sip_trunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_dialer "github.com/praxisvoice/api/agent-api/internal/dialer"
	internal_rtp "github.com/praxisvoice/api/agent-api/internal/rtp"
	sip_infra "github.com/praxisvoice/api/agent-api/sip/infra"
	"github.com/praxisvoice/pkg/commons"
)

// Direct SIP trunk. Where the FreeSWITCH backend delegates signaling and
// media to the PBX, this trunk is the user agent itself: INVITE dialogs
// over sipgo, SDP offer/answer from sip_infra, per-call RTP sessions with
// G.711/G.722 transcoding into the engine format. It implements the same
// dialer.Trunk contract as the PBX trunk, so campaigns run unchanged over
// either backend.

var (
	// ErrUnknownCall is returned for operations on call ids the trunk
	// is not tracking.
	ErrUnknownCall = errors.New("sip: unknown call")
	// ErrClosed is returned once the trunk is shut down.
	ErrClosed = errors.New("sip: trunk closed")
)

const (
	// frameInterval is the send/receive pacing. Both SDP sides pin
	// ptime:20, so the media loops tick at the same rate.
	frameInterval = 20 * time.Millisecond
	// outQueueFrames bounds buffered agent audio per leg, roughly four
	// seconds. Synthesis bursts ahead of real time; the excess waits
	// here instead of in the socket.
	outQueueFrames = 200
	// registerRetry is the pause before retrying a failed registration.
	registerRetry = 10 * time.Second
	hangupTimeout = 5 * time.Second
)

// Options carries the trunk collaborators that are optional or shared.
type Options struct {
	// Ports leases RTP ports from the shared Redis pool. Nil falls back
	// to kernel-assigned ephemeral ports, fine for a single instance
	// without a pinhole firewall.
	Ports  *sip_infra.PortAllocator
	Jitter internal_rtp.JitterBufferConfig
}

// Trunk is a SIP user agent bound to one provider trunk.
type Trunk struct {
	cfg    sip_infra.Config
	logger commons.Logger
	codecs *internal_codec.Registry
	ports  *sip_infra.PortAllocator
	jitter internal_rtp.JitterBufferConfig

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	mu         sync.Mutex
	legs       map[string]*leg // keyed by SIP Call-ID
	closed     bool
	registered bool

	runCtx    context.Context
	runCancel context.CancelFunc

	onInbound  func(callID, caller, callee string) error
	onAnswered func(callID string)
	onAudio    func(callID string, samples []float32)
	onHangup   func(callID string)
}

// New builds the trunk and its sipgo stack. The config must be
// normalized or normalizable; Run starts the listener.
func New(cfg sip_infra.Config, opts Options, logger commons.Logger) (*Trunk, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if opts.Jitter == (internal_rtp.JitterBufferConfig{}) {
		opts.Jitter = internal_rtp.DefaultJitterBufferConfig()
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("PraxisVoice Agent"))
	if err != nil {
		return nil, fmt.Errorf("sip: build user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(cfg.LocalIP),
		sipgo.WithClientPort(cfg.LocalPort),
	)
	if err != nil {
		return nil, fmt.Errorf("sip: build client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("sip: build server: %w", err)
	}

	t := &Trunk{
		cfg:    cfg,
		logger: logger,
		codecs: internal_codec.NewRegistry(logger),
		ports:  opts.Ports,
		jitter: opts.Jitter,
		ua:     ua,
		client: client,
		server: server,
		legs:   make(map[string]*leg),
	}
	server.OnInvite(t.handleInvite)
	server.OnBye(t.handleBye)
	server.OnCancel(t.handleBye)
	server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})
	server.OnOptions(func(req *sip.Request, tx sip.ServerTransaction) {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
	})
	return t, nil
}

// SetOnInbound registers the inbound-call callback, fired before the
// INVITE is answered. A non-nil error rejects the call with 480.
func (t *Trunk) SetOnInbound(fn func(callID, caller, callee string) error) { t.onInbound = fn }

// SetOnAnswered registers the media-established callback. It fires once
// per call: after the 200 OK in either direction.
func (t *Trunk) SetOnAnswered(fn func(callID string)) { t.onAnswered = fn }

// SetOnAudio registers the engine-bound audio callback.
func (t *Trunk) SetOnAudio(fn func(callID string, samples []float32)) { t.onAudio = fn }

// SetOnHangup registers the teardown callback.
func (t *Trunk) SetOnHangup(fn func(callID string)) { t.onHangup = fn }

// Run listens for SIP traffic and, when configured, keeps the trunk
// registration alive. It blocks until ctx is canceled.
func (t *Trunk) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.runCtx, t.runCancel = context.WithCancel(ctx)
	t.mu.Unlock()

	if t.ports != nil {
		if err := t.ports.Init(t.runCtx); err != nil {
			return err
		}
	}
	if t.cfg.Register {
		go t.registerLoop(t.runCtx)
	}
	t.logger.Infow("sip: trunk listening",
		"addr", t.cfg.ListenAddr(), "transport", t.cfg.Transport, "server", t.cfg.Addr())

	err := t.server.ListenAndServe(t.runCtx, t.cfg.Transport, t.cfg.ListenAddr())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sip: listen %s/%s: %w", t.cfg.Transport, t.cfg.ListenAddr(), err)
	}
	return nil
}

// Close hangs up every live call and shuts the stack down.
func (t *Trunk) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	legs := make([]*leg, 0, len(t.legs))
	for _, l := range t.legs {
		legs = append(legs, l)
	}
	cancel := t.runCancel
	t.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), hangupTimeout)
	defer done()
	for _, l := range legs {
		t.hangupLeg(ctx, l, "shutdown")
	}
	if cancel != nil {
		cancel()
	}
	if t.ports != nil {
		t.ports.ReleaseAll(ctx)
	}
	return t.ua.Close()
}

// Stats is a point-in-time snapshot for the ops endpoints.
type Stats struct {
	ActiveCalls int  `json:"activeCalls"`
	Registered  bool `json:"registered"`
}

func (t *Trunk) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{ActiveCalls: len(t.legs), Registered: t.registered}
}

// Originate sends an INVITE towards the trunk and returns the call id
// without waiting for an answer; WaitForAnswer picks up from there.
func (t *Trunk) Originate(ctx context.Context, call internal_dialer.OriginateCall) (string, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrClosed
	}
	t.mu.Unlock()

	callID := uuid.NewString()
	l, err := t.newLeg(ctx, callID, false)
	if err != nil {
		return "", err
	}

	callerID := call.CallerID
	if callerID == "" {
		callerID = t.cfg.Username
	}
	recipient := sip.Uri{User: call.Destination, Host: t.cfg.Server, Port: t.cfg.Port}
	req := sip.NewRequest(sip.INVITE, recipient)
	req.SetTransport(strings.ToUpper(t.cfg.Transport))

	from := sip.FromHeader{
		DisplayName: t.cfg.DisplayName,
		Address:     sip.Uri{User: callerID, Host: t.cfg.LocalIP, Port: t.cfg.LocalPort},
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(&from)
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	for k, v := range call.Variables {
		req.AppendHeader(sip.NewHeader("X-"+k, v))
	}
	offer := sip_infra.Offer(t.cfg.LocalIP, l.rtpPort())
	req.SetBody([]byte(offer.Marshal()))

	tx, err := t.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		t.dropLeg(l)
		return "", fmt.Errorf("sip: send invite to %s: %w", call.Destination, err)
	}
	l.invite = req
	l.inviteTx = tx

	t.mu.Lock()
	t.legs[callID] = l
	t.mu.Unlock()

	go t.watchInvite(l, req, tx)
	t.logger.Infow("sip: originate",
		"call_id", callID, "destination", call.Destination, "caller_id", callerID)
	return callID, nil
}

// WaitForAnswer blocks until the far end answers or the dialog fails.
func (t *Trunk) WaitForAnswer(ctx context.Context, callID string) error {
	t.mu.Lock()
	l := t.legs[callID]
	t.mu.Unlock()
	if l == nil {
		return ErrUnknownCall
	}
	select {
	case err := <-l.answered:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hangup ends the call: CANCEL while ringing, BYE once answered.
func (t *Trunk) Hangup(ctx context.Context, callID string, cause string) error {
	t.mu.Lock()
	l := t.legs[callID]
	t.mu.Unlock()
	if l == nil {
		return ErrUnknownCall
	}
	t.hangupLeg(ctx, l, cause)
	return nil
}

// watchInvite follows the client transaction for an outbound INVITE
// through provisional responses, one digest challenge round and the
// final answer.
func (t *Trunk) watchInvite(l *leg, req *sip.Request, tx sip.ClientTransaction) {
	authed := false
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				t.settleOutbound(l, internal_dialer.ErrNoAnswer)
				return
			}
			switch {
			case res.StatusCode < 200:
				if res.StatusCode == 180 || res.StatusCode == 183 {
					t.logger.Debugw("sip: ringing", "call_id", l.id, "status", res.StatusCode)
				}

			case res.StatusCode == 401 || res.StatusCode == 407:
				if authed {
					t.settleOutbound(l, fmt.Errorf("sip: invite auth rejected (%d %s)", res.StatusCode, res.Reason))
					return
				}
				authed = true
				newReq, newTx, err := t.retryWithAuth(t.baseCtx(), req, res)
				if err != nil {
					t.settleOutbound(l, err)
					return
				}
				tx.Terminate()
				req, tx = newReq, newTx
				t.mu.Lock()
				l.invite, l.inviteTx = req, tx
				t.mu.Unlock()

			case res.StatusCode < 300:
				if err := t.establishOutbound(l, req, res); err != nil {
					t.settleOutbound(l, err)
					return
				}
				t.settleOutbound(l, nil)
				if t.onAnswered != nil {
					t.onAnswered(l.id)
				}
				return

			default:
				t.logger.Infow("sip: call rejected",
					"call_id", l.id, "status", res.StatusCode, "reason", res.Reason)
				err := internal_dialer.ErrNoAnswer
				if res.StatusCode == 486 || res.StatusCode == 600 {
					err = internal_dialer.ErrBusy
				}
				t.settleOutbound(l, err)
				return
			}

		case <-tx.Done():
			err := tx.Err()
			if err == nil {
				err = internal_dialer.ErrNoAnswer
			}
			t.settleOutbound(l, err)
			return
		}
	}
}

// retryWithAuth answers a 401/407 challenge: same request, fresh Via,
// bumped CSeq and the computed digest credentials.
func (t *Trunk) retryWithAuth(ctx context.Context, req *sip.Request, res *sip.Response) (*sip.Request, sip.ClientTransaction, error) {
	challengeName, credentialName := "WWW-Authenticate", "Authorization"
	if res.StatusCode == 407 {
		challengeName, credentialName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	challenge := res.GetHeader(challengeName)
	if challenge == nil {
		return nil, nil, fmt.Errorf("sip: %d response without %s header", res.StatusCode, challengeName)
	}
	cred, err := sip_infra.DigestAuthorization(
		challenge.Value(), req.Method.String(), req.Recipient.String(),
		t.cfg.Username, t.cfg.Password)
	if err != nil {
		return nil, nil, err
	}

	newReq := req.Clone()
	newReq.RemoveHeader("Via")
	newReq.RemoveHeader(credentialName)
	newReq.AppendHeader(sip.NewHeader(credentialName, cred))

	tx, err := t.client.TransactionRequest(ctx, newReq,
		sipgo.ClientRequestIncreaseCSEQ, sipgo.ClientRequestAddVia)
	if err != nil {
		return nil, nil, fmt.Errorf("sip: resend %s with credentials: %w", req.Method, err)
	}
	return newReq, tx, nil
}

// establishOutbound finishes dialog setup on a 2xx: SDP answer, codec
// pin, ACK, media loops.
func (t *Trunk) establishOutbound(l *leg, req *sip.Request, res *sip.Response) error {
	remote, err := sip_infra.ParseSDP(res.Body())
	if err != nil {
		return fmt.Errorf("sip: answer for %s: %w", l.id, err)
	}
	if err := t.pinCodec(l, remote.Codec); err != nil {
		return err
	}
	if err := l.rtp.SetRemote(remote.ConnectionIP, remote.AudioPort); err != nil {
		return fmt.Errorf("sip: remote media for %s: %w", l.id, err)
	}

	ack := sip.NewAckRequest(req, res, nil)
	if err := t.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("sip: ack for %s: %w", l.id, err)
	}

	// Dialog identity for the eventual BYE: our From kept its tag, the
	// To tag arrived with the answer, and the remote Contact is the
	// in-dialog target.
	l.byeRecipient = req.Recipient
	if contact := res.Contact(); contact != nil {
		l.byeRecipient = contact.Address.Uri
	}
	l.localFrom = req.From()
	l.remoteTo = res.To()
	l.cseq = req.CSeq().SeqNo

	t.startMedia(l)
	t.logger.Infow("sip: call answered",
		"call_id", l.id, "codec", l.wire.Name(),
		"remote", fmt.Sprintf("%s:%d", remote.ConnectionIP, remote.AudioPort))
	return nil
}

func (t *Trunk) settleOutbound(l *leg, err error) {
	select {
	case l.answered <- err:
	default:
	}
	if err != nil {
		t.closeLeg(l)
	}
}

// handleInvite accepts an inbound call from the trunk: negotiate media,
// hand the call to the service, answer 200 with our SDP.
func (t *Trunk) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	if callID == "" {
		t.respond(req, tx, 400, "Missing Call-ID")
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.respond(req, tx, 503, "Shutting Down")
		return
	}
	if _, dup := t.legs[callID]; dup {
		t.mu.Unlock()
		// Retransmitted INVITE for a leg we are already setting up.
		return
	}
	t.mu.Unlock()

	remote, err := sip_infra.ParseSDP(req.Body())
	if err != nil {
		t.logger.Warnw("sip: unusable offer", "call_id", callID, "error", err)
		t.respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	l, err := t.newLeg(t.baseCtx(), callID, true)
	if err != nil {
		t.logger.Errorw("sip: inbound media setup failed", "call_id", callID, "error", err)
		t.respond(req, tx, 500, "Server Internal Error")
		return
	}
	if err := t.pinCodec(l, remote.Codec); err != nil {
		t.dropLeg(l)
		t.respond(req, tx, 488, "Not Acceptable Here")
		return
	}
	if err := l.rtp.SetRemote(remote.ConnectionIP, remote.AudioPort); err != nil {
		t.dropLeg(l)
		t.respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	caller, callee := "", ""
	if from := req.From(); from != nil {
		caller = from.Address.User
	}
	if to := req.To(); to != nil {
		callee = to.Address.User
	}

	t.mu.Lock()
	t.legs[callID] = l
	t.mu.Unlock()

	if t.onInbound != nil {
		if err := t.onInbound(callID, caller, callee); err != nil {
			t.logger.Warnw("sip: inbound call refused",
				"call_id", callID, "caller", caller, "error", err)
			t.closeLeg(l)
			t.respond(req, tx, 480, "Temporarily Unavailable")
			return
		}
	}

	answer := sip_infra.Answer(t.cfg.LocalIP, l.rtpPort(), remote.Codec)
	res := sip.NewResponseFromRequest(req, 200, "OK", []byte(answer.Marshal()))
	if to := res.To(); to != nil && !to.Params.Has("tag") {
		to.Params.Add("tag", sip.GenerateTagN(16))
	}
	res.AppendHeader(&sip.ContactHeader{
		Address: sip.Address{
			Uri: sip.Uri{User: t.cfg.Username, Host: t.cfg.LocalIP, Port: t.cfg.LocalPort},
		},
	})
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		t.logger.Errorw("sip: answer failed", "call_id", callID, "error", err)
		t.closeLeg(l)
		return
	}

	// BYE direction reverses on an inbound dialog: our To (with tag)
	// becomes the From, the caller's From becomes the To.
	l.byeRecipient = req.From().Address.Uri
	if contact := req.Contact(); contact != nil {
		l.byeRecipient = contact.Address.Uri
	}
	l.localFrom = &sip.FromHeader{Address: res.To().Address, Params: res.To().Params}
	l.remoteTo = &sip.ToHeader{Address: req.From().Address, Params: req.From().Params}
	l.cseq = 1

	t.startMedia(l)
	t.logger.Infow("sip: inbound call answered",
		"call_id", callID, "caller", caller, "callee", callee, "codec", l.wire.Name())
	if t.onAnswered != nil {
		t.onAnswered(callID)
	}
}

// handleBye ends the dialog on the remote's initiative.
func (t *Trunk) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))

	t.mu.Lock()
	l := t.legs[callID]
	t.mu.Unlock()
	if l == nil {
		return
	}
	t.logger.Infow("sip: remote hangup", "call_id", callID)
	// Settle a racing WaitForAnswer before tearing down.
	select {
	case l.answered <- internal_dialer.ErrNoAnswer:
	default:
	}
	t.closeLeg(l)
}

func (t *Trunk) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		t.logger.Debugw("sip: respond failed", "status", int(code), "error", err)
	}
}

// hangupLeg ends a call from our side. Ringing outbound legs get a
// CANCEL, established dialogs a BYE.
func (t *Trunk) hangupLeg(ctx context.Context, l *leg, cause string) {
	if l.established.Load() {
		if err := t.sendBye(ctx, l); err != nil {
			t.logger.Warnw("sip: bye failed", "call_id", l.id, "error", err)
		}
	} else if !l.inbound {
		t.mu.Lock()
		req, tx := l.invite, l.inviteTx
		t.mu.Unlock()
		if req != nil && tx != nil {
			if err := t.sendCancel(ctx, req); err != nil {
				t.logger.Warnw("sip: cancel failed", "call_id", l.id, "error", err)
			}
			tx.Terminate()
		}
	}
	t.logger.Infow("sip: hangup", "call_id", l.id, "cause", cause)
	select {
	case l.answered <- internal_dialer.ErrNoAnswer:
	default:
	}
	t.closeLeg(l)
}

// sendBye tears the dialog down with the identity captured at answer
// time. One digest retry, same as the INVITE path.
func (t *Trunk) sendBye(ctx context.Context, l *leg) error {
	bye := sip.NewRequest(sip.BYE, l.byeRecipient)
	bye.SetTransport(strings.ToUpper(t.cfg.Transport))
	bye.AppendHeader(sip.HeaderClone(l.localFrom))
	bye.AppendHeader(sip.HeaderClone(l.remoteTo))
	callIDHeader := sip.CallIDHeader(l.id)
	bye.AppendHeader(&callIDHeader)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: l.cseq + 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	res, err := t.request(ctx, bye)
	if err != nil {
		return err
	}
	if res != nil && res.StatusCode >= 300 {
		return fmt.Errorf("sip: bye rejected (%d %s)", res.StatusCode, res.Reason)
	}
	return nil
}

// sendCancel aborts a ringing INVITE. The CANCEL copies the INVITE's
// identity headers and CSeq number per RFC 3261 §9.1.
func (t *Trunk) sendCancel(ctx context.Context, invite *sip.Request) error {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	cancel.SetTransport(invite.Transport())
	for _, name := range []string{"Via", "From", "To", "Call-ID"} {
		if h := invite.GetHeader(name); h != nil {
			cancel.AppendHeader(sip.HeaderClone(h))
		}
	}
	if cseq := invite.CSeq(); cseq != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	return t.client.WriteRequest(cancel)
}

// request sends a non-INVITE request and waits for the final response,
// retrying once on a digest challenge.
func (t *Trunk) request(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := t.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return nil, fmt.Errorf("sip: send %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	authed := false
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, fmt.Errorf("sip: %s transaction closed", req.Method)
			}
			if res.StatusCode < 200 {
				continue
			}
			if (res.StatusCode == 401 || res.StatusCode == 407) && !authed {
				authed = true
				newReq, newTx, err := t.retryWithAuth(ctx, req, res)
				if err != nil {
					return nil, err
				}
				tx.Terminate()
				req, tx = newReq, newTx
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("sip: %s failed: %w", req.Method, err)
			}
			return nil, fmt.Errorf("sip: %s transaction done without response", req.Method)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// registerLoop keeps the trunk registration current: re-REGISTER at half
// the granted expiry, OPTIONS pings in between, retry on failure.
func (t *Trunk) registerLoop(ctx context.Context) {
	var keepalive <-chan time.Time
	if t.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(t.cfg.KeepAlive)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	next := time.After(0)
	for {
		select {
		case <-ctx.Done():
			t.unregister()
			return
		case <-next:
			if err := t.sendRegister(ctx, t.cfg.RegisterExpiry); err != nil {
				t.logger.Warnw("sip: registration failed", "server", t.cfg.Addr(), "error", err)
				t.setRegistered(false)
				next = time.After(registerRetry)
				continue
			}
			t.setRegistered(true)
			t.logger.Infow("sip: registered",
				"server", t.cfg.Addr(), "expiry", t.cfg.RegisterExpiry)
			next = time.After(t.cfg.RegisterExpiry / 2)
		case <-keepalive:
			if !t.isRegistered() {
				continue
			}
			if err := t.sendOptions(ctx); err != nil {
				t.logger.Debugw("sip: keepalive failed", "server", t.cfg.Addr(), "error", err)
			}
		}
	}
}

func (t *Trunk) sendRegister(ctx context.Context, expiry time.Duration) error {
	aor := sip.Uri{User: t.cfg.Username, Host: t.cfg.Server, Port: t.cfg.Port}
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: t.cfg.Server, Port: t.cfg.Port})
	req.SetTransport(strings.ToUpper(t.cfg.Transport))

	from := sip.FromHeader{Address: sip.Address{Uri: aor}, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(&from)
	req.AppendHeader(&sip.ToHeader{Address: sip.Address{Uri: aor}})
	req.AppendHeader(&sip.ContactHeader{
		Address: sip.Address{
			Uri: sip.Uri{User: t.cfg.Username, Host: t.cfg.LocalIP, Port: t.cfg.LocalPort},
		},
	})
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", int(expiry.Seconds()))))

	res, err := t.request(ctx, req)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("sip: register rejected (%d %s)", res.StatusCode, res.Reason)
	}
	return nil
}

func (t *Trunk) sendOptions(ctx context.Context) error {
	req := sip.NewRequest(sip.OPTIONS, sip.Uri{Host: t.cfg.Server, Port: t.cfg.Port})
	req.SetTransport(strings.ToUpper(t.cfg.Transport))
	_, err := t.request(ctx, req)
	return err
}

// unregister is best effort during shutdown: Expires 0, short budget.
func (t *Trunk) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.sendRegister(ctx, 0); err != nil {
		t.logger.Debugw("sip: unregister failed", "server", t.cfg.Addr(), "error", err)
	}
	t.setRegistered(false)
}

func (t *Trunk) setRegistered(v bool) {
	t.mu.Lock()
	t.registered = v
	t.mu.Unlock()
}

func (t *Trunk) isRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}
