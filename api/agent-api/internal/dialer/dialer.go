// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_dialer schedules outbound campaign calls: a priority
// queue drained by a single worker loop that enforces business hours,
// per-minute rate limits and concurrency, places calls through an injected
// trunk, runs the campaign conversation, and applies the retry and SMS
// fallback policy.
package internal_dialer

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_outbound "github.com/praxisvoice/api/agent-api/internal/outbound"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

var (
	ErrAlreadyStarted = errors.New("dialer: already started")
	ErrStopped        = errors.New("dialer: stopped")

	// ErrBusy and ErrNoAnswer are returned by Trunk.WaitForAnswer to tell
	// the dialer why the far end never picked up.
	ErrBusy     = errors.New("dialer: destination busy")
	ErrNoAnswer = errors.New("dialer: no answer")
)

// auditActor identifies the dialer in compliance records.
const auditActor = "phone-agent-dialer"

// CallOutcome is the dialer-level result of one attempt. Conversation
// outcomes from the campaign policy map onto these.
type CallOutcome string

const (
	OutcomeAnswered    CallOutcome = "answered"
	OutcomeNoAnswer    CallOutcome = "no_answer"
	OutcomeBusy        CallOutcome = "busy"
	OutcomeFailed      CallOutcome = "failed"
	OutcomeDeclined    CallOutcome = "declined"
	OutcomeWrongNumber CallOutcome = "wrong_number"
	OutcomeVoicemail   CallOutcome = "voicemail"
	OutcomeNoConsent   CallOutcome = "no_consent"
)

// retryable reports whether an outcome qualifies for another attempt.
func retryable(o CallOutcome) bool {
	return o == OutcomeNoAnswer || o == OutcomeBusy || o == OutcomeFailed
}

// OriginateCall is the trunk-neutral dial request.
type OriginateCall struct {
	Destination string
	CallerID    string
	Timeout     time.Duration
	Variables   map[string]string
}

// Trunk places and tears down calls. The event-socket client satisfies it
// through PBXTrunk; the SIP stack brings its own implementation.
// WaitForAnswer blocks until the far end picks up; it returns ErrBusy or
// ErrNoAnswer when the PBX reports those causes, and the context error on
// ring timeout.
type Trunk interface {
	Originate(ctx context.Context, call OriginateCall) (string, error)
	WaitForAnswer(ctx context.Context, callID string) error
	Hangup(ctx context.Context, callID string, cause string) error
}

// ConversationRunner drives the campaign dialogue on an answered call and
// reports the conversation outcome. The telephony service provides the
// engine-backed implementation.
type ConversationRunner func(ctx context.Context, call *QueuedCall, callID string) (internal_outbound.Outcome, error)

// Sleeper pauses the scheduler loop. Tests inject one that advances a
// fake clock instead of sleeping.
type Sleeper func(ctx context.Context, d time.Duration)

func defaultSleeper(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// BusinessHours is the local-time window the dialer may place calls in.
type BusinessHours struct {
	StartHour    int  `mapstructure:"start_hour"`
	EndHour      int  `mapstructure:"end_hour"`
	WeekdaysOnly bool `mapstructure:"weekdays_only"`
}

// Contains reports whether t falls inside the window.
func (h BusinessHours) Contains(t time.Time) bool {
	if h.WeekdaysOnly {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	return t.Hour() >= h.StartHour && t.Hour() < h.EndHour
}

// Config tunes the dialer. Zero values fall back to defaults, except the
// rate fields: a zero MinCallInterval or CallsPerMinute disables that
// limit.
type Config struct {
	Hours                  BusinessHours `mapstructure:"business_hours"`
	MaxConcurrent          int           `mapstructure:"max_concurrent"`
	CallsPerMinute         int           `mapstructure:"calls_per_minute"`
	MinCallInterval        time.Duration `mapstructure:"min_call_interval"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	SMSAfterFailedAttempts int           `mapstructure:"sms_after_failed_attempts"`
	RingTimeout            time.Duration `mapstructure:"ring_timeout"`
	MaxCallDuration        time.Duration `mapstructure:"max_call_duration"`
	CallerID               string        `mapstructure:"caller_id"`
	PracticeName           string        `mapstructure:"practice_name"`

	// SMSTemplates overrides individual outbound template keys for the
	// fallback texts.
	SMSTemplates map[string]string `mapstructure:"sms_templates"`
}

func DefaultConfig() Config {
	return Config{
		Hours:                  BusinessHours{StartHour: 9, EndHour: 18, WeekdaysOnly: true},
		MaxConcurrent:          1,
		CallsPerMinute:         4,
		MinCallInterval:        15 * time.Second,
		MaxAttempts:            3,
		RetryDelay:             60 * time.Minute,
		SMSAfterFailedAttempts: 2,
		RingTimeout:            25 * time.Second,
		MaxCallDuration:        5 * time.Minute,
	}
}

// CallResult is handed to the completion callback after every attempt.
type CallResult struct {
	Call            QueuedCall
	CallID          string
	Outcome         CallOutcome
	CampaignOutcome internal_outbound.Outcome
	Err             error
	FinishedAt      time.Time
}

// Dependencies wires the dialer's collaborators. Trunk and Run are
// required; a nil Consent grants every call, a nil SMS disables the
// fallback, a nil Audit drops compliance records.
type Dependencies struct {
	Trunk   Trunk
	Run     ConversationRunner
	Consent internal_capability.ConsentStore
	SMS     internal_capability.SMSGateway
	Audit   internal_capability.AuditLog
	Clock   internal_capability.Clock
	Sleep   Sleeper
	OnDone  func(result CallResult)
}

// Stats is a point-in-time snapshot. All counters are monotonically
// non-decreasing; Active and QueueDepth are current sizes.
type Stats struct {
	Submitted   uint64
	Completed   uint64
	Answered    uint64
	NoAnswer    uint64
	Busy        uint64
	Failed      uint64
	Declined    uint64
	CallsFailed uint64
	SMSSent     uint64
	Active      int
	QueueDepth  int
}

// Dialer owns the pending-call queue and the active set. One worker loop
// pops and launches calls; everything else reaches the queue through
// Submit and Cancel under the same mutex.
type Dialer struct {
	cfg    Config
	deps   Dependencies
	sms    *internal_outbound.SMSRenderer
	logger commons.Logger

	mu       sync.Mutex
	queue    callQueue
	active   map[string]*QueuedCall
	seq      uint64
	lastDial time.Time
	recent   []time.Time
	cancel   context.CancelFunc

	paused  atomic.Bool
	started atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	submitted   atomic.Uint64
	completed   atomic.Uint64
	answered    atomic.Uint64
	noAnswer    atomic.Uint64
	busy        atomic.Uint64
	failed      atomic.Uint64
	declined    atomic.Uint64
	callsFailed atomic.Uint64
	smsSent     atomic.Uint64
}

func NewDialer(cfg Config, deps Dependencies, logger commons.Logger) (*Dialer, error) {
	if deps.Trunk == nil {
		return nil, fmt.Errorf("dialer: trunk required")
	}
	if deps.Run == nil {
		return nil, fmt.Errorf("dialer: conversation runner required")
	}
	if cfg.Hours.StartHour == 0 && cfg.Hours.EndHour == 0 {
		cfg.Hours = BusinessHours{StartHour: 9, EndHour: 18, WeekdaysOnly: true}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 60 * time.Minute
	}
	if cfg.SMSAfterFailedAttempts <= 0 {
		cfg.SMSAfterFailedAttempts = 2
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 25 * time.Second
	}
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = 5 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = internal_capability.SystemClock()
	}
	if deps.Sleep == nil {
		deps.Sleep = defaultSleeper
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	renderer, err := internal_outbound.NewSMSRenderer(cfg.PracticeName, cfg.SMSTemplates, logger)
	if err != nil {
		return nil, err
	}
	d := &Dialer{
		cfg:    cfg,
		deps:   deps,
		sms:    renderer,
		logger: logger,
		active: make(map[string]*QueuedCall),
		done:   make(chan struct{}),
	}
	heap.Init(&d.queue)
	return d, nil
}

// Submit queues a call. Missing fields get defaults: a fresh ID, normal
// priority, scheduled-now, attempt one.
func (d *Dialer) Submit(call QueuedCall) (string, error) {
	select {
	case <-d.done:
		return "", ErrStopped
	default:
	}
	if call.Campaign == "" {
		return "", fmt.Errorf("dialer: campaign required")
	}
	if !utils.IsValidPhoneNumber(call.Patient.Phone) {
		return "", fmt.Errorf("dialer: invalid phone number")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.Priority == 0 {
		call.Priority = PriorityNormal
	}
	if call.ScheduledAt.IsZero() {
		call.ScheduledAt = d.deps.Clock.Now()
	}
	if call.Attempt <= 0 {
		call.Attempt = 1
	}
	d.push(&call)
	d.submitted.Add(1)
	d.logger.Infow("dialer: call queued",
		"id", call.ID,
		"campaign", call.Campaign,
		"phone", utils.MaskPhoneNumber(call.Patient.Phone),
		"priority", call.Priority,
		"attempt", call.Attempt)
	return call.ID, nil
}

func (d *Dialer) push(call *QueuedCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	call.seq = d.seq
	heap.Push(&d.queue, call)
}

// Cancel removes a queued call. Active calls cannot be cancelled.
func (d *Dialer) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, call := range d.queue {
		if call.ID == id {
			heap.Remove(&d.queue, i)
			d.logger.Infow("dialer: call cancelled", "id", id)
			return true
		}
	}
	return false
}

func (d *Dialer) Pause()  { d.paused.Store(true) }
func (d *Dialer) Resume() { d.paused.Store(false) }

func (d *Dialer) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dialer) Stats() Stats {
	d.mu.Lock()
	active := len(d.active)
	depth := len(d.queue)
	d.mu.Unlock()
	return Stats{
		Submitted:   d.submitted.Load(),
		Completed:   d.completed.Load(),
		Answered:    d.answered.Load(),
		NoAnswer:    d.noAnswer.Load(),
		Busy:        d.busy.Load(),
		Failed:      d.failed.Load(),
		Declined:    d.declined.Load(),
		CallsFailed: d.callsFailed.Load(),
		SMSSent:     d.smsSent.Load(),
		Active:      active,
		QueueDepth:  depth,
	}
}

// Start launches the worker loop. It returns once the loop is running;
// Stop shuts it down.
func (d *Dialer) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.wg.Add(1)
	go d.run(runCtx)
	return nil
}

// Stop halts scheduling, aborts active calls and waits for them.
func (d *Dialer) Stop() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	d.wg.Wait()
}

func (d *Dialer) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		default:
		}

		if d.paused.Load() {
			d.deps.Sleep(ctx, time.Second)
			continue
		}
		now := d.deps.Clock.Now()
		if !d.cfg.Hours.Contains(now) {
			d.deps.Sleep(ctx, time.Minute)
			continue
		}
		if n := d.activeCount(); n >= d.cfg.MaxConcurrent {
			if n > d.cfg.MaxConcurrent {
				d.logger.Errorw("dialer: active calls exceed limit, pausing",
					"active", n, "max", d.cfg.MaxConcurrent)
				d.paused.Store(true)
			}
			d.deps.Sleep(ctx, time.Second)
			continue
		}
		if wait := d.rateDelay(now); wait > 0 {
			d.deps.Sleep(ctx, wait)
			continue
		}
		call := d.popDue(now)
		if call == nil {
			d.deps.Sleep(ctx, time.Second)
			continue
		}
		d.markDialed(now)
		d.wg.Add(1)
		go d.execute(ctx, call)
	}
}

func (d *Dialer) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// rateDelay returns how long the loop must wait before the next dial, or
// zero when a dial may proceed.
func (d *Dialer) rateDelay(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.MinCallInterval > 0 && !d.lastDial.IsZero() {
		if next := d.lastDial.Add(d.cfg.MinCallInterval); next.After(now) {
			return next.Sub(now)
		}
	}
	if d.cfg.CallsPerMinute > 0 {
		cutoff := now.Add(-time.Minute)
		kept := d.recent[:0]
		for _, at := range d.recent {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		d.recent = kept
		if len(d.recent) >= d.cfg.CallsPerMinute {
			return time.Second
		}
	}
	return 0
}

// popDue removes the queue head when it is ready to dial and moves it to
// the active set.
func (d *Dialer) popDue(now time.Time) *QueuedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || d.queue[0].ScheduledAt.After(now) {
		return nil
	}
	call := heap.Pop(&d.queue).(*QueuedCall)
	d.active[call.ID] = call
	return call
}

func (d *Dialer) markDialed(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastDial = now
	d.recent = append(d.recent, now)
}

func (d *Dialer) removeActive(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, id)
}

func (d *Dialer) execute(ctx context.Context, call *QueuedCall) {
	defer d.wg.Done()

	outcome, campaignOutcome, callID, err := d.attempt(ctx, call)
	d.completed.Add(1)
	switch outcome {
	case OutcomeAnswered:
		d.answered.Add(1)
	case OutcomeNoAnswer:
		d.noAnswer.Add(1)
	case OutcomeBusy:
		d.busy.Add(1)
	case OutcomeFailed:
		d.failed.Add(1)
	case OutcomeDeclined:
		d.answered.Add(1)
		d.declined.Add(1)
	case OutcomeWrongNumber, OutcomeVoicemail:
		d.answered.Add(1)
	}

	d.logger.Infow("dialer: attempt finished",
		"id", call.ID,
		"phone", utils.MaskPhoneNumber(call.Patient.Phone),
		"attempt", call.Attempt,
		"outcome", outcome,
		"campaign_outcome", campaignOutcome,
		"error", err)

	if d.deps.OnDone != nil {
		d.deps.OnDone(CallResult{
			Call:            *call,
			CallID:          callID,
			Outcome:         outcome,
			CampaignOutcome: campaignOutcome,
			Err:             err,
			FinishedAt:      d.deps.Clock.Now(),
		})
	}

	d.removeActive(call.ID)
	d.applyRetryPolicy(ctx, call, outcome)
}

func (d *Dialer) attempt(ctx context.Context, call *QueuedCall) (CallOutcome, internal_outbound.Outcome, string, error) {
	if d.deps.Consent != nil {
		ok, err := d.deps.Consent.HasConsent(ctx, call.Patient.ID, internal_capability.ConsentPhoneContact)
		if err != nil || !ok {
			d.callsFailed.Add(1)
			d.audit(ctx, internal_capability.AuditActionConsent, call, map[string]string{"result": "denied"})
			d.logger.Warnw("dialer: consent denied",
				"id", call.ID, "phone", utils.MaskPhoneNumber(call.Patient.Phone), "error", err)
			return OutcomeNoConsent, "", "", nil
		}
	}

	d.audit(ctx, internal_capability.AuditActionCall, call, map[string]string{
		"attempt": strconv.Itoa(call.Attempt),
	})

	callID, err := d.deps.Trunk.Originate(ctx, OriginateCall{
		Destination: call.Patient.Phone,
		CallerID:    d.cfg.CallerID,
		Timeout:     d.cfg.RingTimeout,
		Variables: map[string]string{
			"campaign_type": string(call.Campaign),
			"queued_call":   call.ID,
		},
	})
	if err != nil {
		d.callsFailed.Add(1)
		return OutcomeFailed, "", "", fmt.Errorf("dialer: originate: %w", err)
	}

	ringCtx, cancelRing := context.WithTimeout(ctx, d.cfg.RingTimeout)
	err = d.deps.Trunk.WaitForAnswer(ringCtx, callID)
	cancelRing()
	if err != nil {
		_ = d.deps.Trunk.Hangup(ctx, callID, "")
		if errors.Is(err, ErrBusy) {
			return OutcomeBusy, "", callID, nil
		}
		return OutcomeNoAnswer, "", callID, nil
	}

	callCtx, cancelCall := context.WithTimeout(ctx, d.cfg.MaxCallDuration)
	campaignOutcome, err := d.deps.Run(callCtx, call, callID)
	cancelCall()
	_ = d.deps.Trunk.Hangup(ctx, callID, "")
	if err != nil {
		return OutcomeFailed, campaignOutcome, callID, fmt.Errorf("dialer: conversation: %w", err)
	}
	return mapOutcome(campaignOutcome), campaignOutcome, callID, nil
}

func mapOutcome(o internal_outbound.Outcome) CallOutcome {
	switch o {
	case internal_outbound.OutcomePatientDeclined:
		return OutcomeDeclined
	case internal_outbound.OutcomeWrongPerson:
		return OutcomeWrongNumber
	case internal_outbound.OutcomeVoicemailLeft:
		return OutcomeVoicemail
	case internal_outbound.OutcomeConversationFailed:
		return OutcomeFailed
	default:
		return OutcomeAnswered
	}
}

func (d *Dialer) applyRetryPolicy(ctx context.Context, call *QueuedCall, outcome CallOutcome) {
	if !retryable(outcome) {
		return
	}
	if call.Attempt < d.cfg.MaxAttempts {
		retry := *call
		retry.Attempt++
		retry.ScheduledAt = d.deps.Clock.Now().Add(d.cfg.RetryDelay)
		d.push(&retry)
		d.logger.Infow("dialer: retry scheduled",
			"id", call.ID, "attempt", retry.Attempt, "at", retry.ScheduledAt)
		return
	}
	d.sendFallbackSMS(ctx, call)
}

// sendFallbackSMS texts the patient once after the final failed attempt,
// provided enough attempts failed and SMS contact is permitted.
func (d *Dialer) sendFallbackSMS(ctx context.Context, call *QueuedCall) {
	if call.Attempt < d.cfg.SMSAfterFailedAttempts || call.smsSent {
		return
	}
	if d.deps.SMS == nil {
		d.logger.Warnw("dialer: no sms gateway for fallback", "id", call.ID)
		return
	}
	if d.deps.Consent != nil {
		ok, err := d.deps.Consent.HasConsent(ctx, call.Patient.ID, internal_capability.ConsentSMSContact)
		if err != nil || !ok {
			d.audit(ctx, internal_capability.AuditActionConsent, call, map[string]string{
				"result":  "denied",
				"channel": "sms",
			})
			return
		}
	}
	body := d.sms.Render(call.Campaign, call.Patient.Name, call.Metadata)
	result, err := d.deps.SMS.Send(ctx, internal_capability.SMSMessage{
		To:        call.Patient.Phone,
		Body:      body,
		Reference: call.ID,
	})
	if err != nil || !result.Success {
		d.logger.Warnw("dialer: fallback sms failed",
			"id", call.ID, "error", err, "detail", result.ErrorMessage)
		return
	}
	call.smsSent = true
	d.smsSent.Add(1)
	d.audit(ctx, internal_capability.AuditActionSMS, call, map[string]string{
		"message_id": result.MessageID,
	})
	d.logger.Infow("dialer: fallback sms sent",
		"id", call.ID, "phone", utils.MaskPhoneNumber(call.Patient.Phone))
}

func (d *Dialer) audit(ctx context.Context, action internal_capability.AuditAction, call *QueuedCall, details map[string]string) {
	if d.deps.Audit == nil {
		return
	}
	if details == nil {
		details = make(map[string]string, 2)
	}
	details["phone"] = utils.MaskPhoneNumber(call.Patient.Phone)
	details["campaign"] = string(call.Campaign)
	d.deps.Audit.Record(ctx, internal_capability.AuditEntry{
		Actor:        auditActor,
		Action:       action,
		ResourceType: "outbound_call",
		ResourceID:   call.ID,
		Details:      details,
	})
}
