// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_dialer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_outbound "github.com/praxisvoice/api/agent-api/internal/outbound"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

// fakeClock drives the scheduler without real waiting. Its sleeper first
// yields real time so launched call goroutines run against the current
// instant, then advances.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// A Tuesday, well inside default business hours.
	return &fakeClock{now: time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) sleeper() Sleeper {
	return func(ctx context.Context, d time.Duration) {
		if ctx.Err() != nil {
			return
		}
		time.Sleep(200 * time.Microsecond)
		c.advance(d)
	}
}

type dialRecord struct {
	at   time.Time
	dest string
}

type fakeTrunk struct {
	clock *fakeClock

	mu           sync.Mutex
	dials        []dialRecord
	hangups      []string
	originateErr error
	answerErr    error
	n            int
}

func (t *fakeTrunk) Originate(_ context.Context, call OriginateCall) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.originateErr != nil {
		return "", t.originateErr
	}
	t.n++
	t.dials = append(t.dials, dialRecord{at: t.clock.Now(), dest: call.Destination})
	return fmt.Sprintf("chan-%d", t.n), nil
}

func (t *fakeTrunk) WaitForAnswer(_ context.Context, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answerErr
}

func (t *fakeTrunk) Hangup(_ context.Context, id string, _ string) error {
	t.mu.Lock()
	t.hangups = append(t.hangups, id)
	t.mu.Unlock()
	return nil
}

func (t *fakeTrunk) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

func (t *fakeTrunk) dialTimes() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	times := make([]time.Time, len(t.dials))
	for i, d := range t.dials {
		times[i] = d.at
	}
	return times
}

func (t *fakeTrunk) dests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	dests := make([]string, len(t.dials))
	for i, d := range t.dials {
		dests[i] = d.dest
	}
	return dests
}

func (t *fakeTrunk) hangupCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hangups)
}

type fakeConsent struct {
	mu        sync.Mutex
	denyPhone map[string]bool
	denySMS   map[string]bool
}

func newFakeConsent() *fakeConsent {
	return &fakeConsent{denyPhone: map[string]bool{}, denySMS: map[string]bool{}}
}

func (c *fakeConsent) HasConsent(_ context.Context, subject string, kind internal_capability.ConsentKind) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == internal_capability.ConsentSMSContact {
		return !c.denySMS[subject], nil
	}
	return !c.denyPhone[subject], nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []internal_capability.SMSMessage
}

func (g *fakeSMS) Send(_ context.Context, msg internal_capability.SMSMessage) (internal_capability.SMSResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return internal_capability.SMSResult{Success: true, MessageID: fmt.Sprintf("sms-%d", len(g.sent))}, nil
}

func (g *fakeSMS) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *fakeSMS) last() internal_capability.SMSMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[len(g.sent)-1]
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []internal_capability.AuditEntry
}

func (a *fakeAudit) Record(_ context.Context, entry internal_capability.AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

func (a *fakeAudit) byAction(action internal_capability.AuditAction) []internal_capability.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []internal_capability.AuditEntry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type scriptRunner struct {
	outcome internal_outbound.Outcome
	err     error

	mu    sync.Mutex
	calls []string
}

func (r *scriptRunner) run(_ context.Context, _ *QueuedCall, callID string) (internal_outbound.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, callID)
	r.mu.Unlock()
	if r.outcome == "" {
		return internal_outbound.OutcomeInformationDelivered, r.err
	}
	return r.outcome, r.err
}

type resultLog struct {
	mu      sync.Mutex
	results []CallResult
}

func (l *resultLog) add(r CallResult) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.mu.Unlock()
}

func (l *resultLog) list() []CallResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CallResult(nil), l.results...)
}

type dialerHarness struct {
	d       *Dialer
	clock   *fakeClock
	trunk   *fakeTrunk
	sms     *fakeSMS
	audit   *fakeAudit
	consent *fakeConsent
	runner  *scriptRunner
	results *resultLog
}

func newHarness(t *testing.T, mutate func(*Config)) *dialerHarness {
	t.Helper()
	clock := newFakeClock()
	h := &dialerHarness{
		clock:   clock,
		trunk:   &fakeTrunk{clock: clock},
		sms:     &fakeSMS{},
		audit:   &fakeAudit{},
		consent: newFakeConsent(),
		runner:  &scriptRunner{},
		results: &resultLog{},
	}
	cfg := DefaultConfig()
	cfg.MinCallInterval = 0
	cfg.CallsPerMinute = 0
	cfg.RetryDelay = 10 * time.Minute
	cfg.PracticeName = "Praxis Dr. Weber"
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDialer(cfg, Dependencies{
		Trunk:   h.trunk,
		Run:     h.runner.run,
		Consent: h.consent,
		SMS:     h.sms,
		Audit:   h.audit,
		Clock:   clock,
		Sleep:   clock.sleeper(),
		OnDone:  h.results.add,
	}, commons.NewNopLogger())
	require.NoError(t, err)
	h.d = d
	return h
}

func (h *dialerHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.d.Start(context.Background()))
	t.Cleanup(h.d.Stop)
}

func (h *dialerHarness) submit(t *testing.T, mutate func(*QueuedCall)) string {
	t.Helper()
	call := QueuedCall{
		Campaign: internal_outbound.CampaignReminder,
		Patient:  internal_outbound.Patient{ID: "pat-1", Name: "Max Mustermann", Phone: "+4930123456"},
	}
	if mutate != nil {
		mutate(&call)
	}
	id, err := h.d.Submit(call)
	require.NoError(t, err)
	return id
}

func TestQueueOrdersByPriorityThenScheduleThenInsertion(t *testing.T) {
	h := newHarness(t, nil)
	base := h.clock.Now()

	a := h.submit(t, func(c *QueuedCall) { c.ScheduledAt = base })
	b := h.submit(t, func(c *QueuedCall) { c.Priority = PriorityLow; c.ScheduledAt = base })
	urgent := h.submit(t, func(c *QueuedCall) { c.Priority = PriorityUrgent; c.ScheduledAt = base.Add(time.Second) })
	e := h.submit(t, func(c *QueuedCall) { c.ScheduledAt = base })

	now := base.Add(time.Minute)
	var popped []string
	for {
		call := h.d.popDue(now)
		if call == nil {
			break
		}
		popped = append(popped, call.ID)
	}
	assert.Equal(t, []string{urgent, a, e, b}, popped)
	assert.Equal(t, 0, h.d.QueueDepth())
}

func TestDistinctPrioritiesDialInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, func(c *QueuedCall) { c.Priority = PriorityLow; c.Patient.Phone = "+4930000001" })
	h.submit(t, func(c *QueuedCall) { c.Priority = PriorityUrgent; c.Patient.Phone = "+4930000002" })
	h.submit(t, func(c *QueuedCall) { c.Priority = PriorityHigh; c.Patient.Phone = "+4930000003" })
	h.start(t)

	require.Eventually(t, func() bool { return h.trunk.dialCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"+4930000002", "+4930000003", "+4930000001"}, h.trunk.dests())
}

func TestMinIntervalSpacesOriginations(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.MinCallInterval = time.Second })
	for i := 0; i < 3; i++ {
		h.submit(t, func(c *QueuedCall) { c.Patient.Phone = fmt.Sprintf("+493000000%d", i) })
	}
	h.start(t)

	require.Eventually(t, func() bool { return h.trunk.dialCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	times := h.trunk.dialTimes()
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), time.Second,
			"dials %d and %d too close", i-1, i)
	}
	assert.Equal(t, 0, h.d.QueueDepth())
}

func TestCallsPerMinuteWindow(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.CallsPerMinute = 2 })
	for i := 0; i < 3; i++ {
		h.submit(t, nil)
	}
	h.start(t)

	require.Eventually(t, func() bool { return h.trunk.dialCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	times := h.trunk.dialTimes()
	// The first two fit the window, the third waits for it to slide.
	assert.Less(t, times[1].Sub(times[0]), 10*time.Second)
	assert.GreaterOrEqual(t, times[2].Sub(times[0]), 50*time.Second)
}

func TestConsentDenialSkipsTrunk(t *testing.T) {
	h := newHarness(t, nil)
	h.consent.denyPhone["pat-1"] = true
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.trunk.dialCount())

	stats := h.d.Stats()
	assert.Equal(t, uint64(1), stats.CallsFailed)
	assert.Equal(t, 0, stats.QueueDepth)

	results := h.results.list()
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeNoConsent, results[0].Outcome)

	denials := h.audit.byAction(internal_capability.AuditActionConsent)
	require.NotEmpty(t, denials)
	assert.Equal(t, utils.MaskPhoneNumber("+4930123456"), denials[0].Details["phone"])
	assert.Equal(t, "denied", denials[0].Details["result"])
}

func TestRetryThenFallbackSMS(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.MaxAttempts = 3
		cfg.SMSAfterFailedAttempts = 2
	})
	h.trunk.answerErr = ErrNoAnswer
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.sms.count() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.d.Stats().Completed == 3 }, 2*time.Second, 5*time.Millisecond)

	times := h.trunk.dialTimes()
	require.Len(t, times, 3)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 10*time.Minute)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 10*time.Minute)

	stats := h.d.Stats()
	assert.Equal(t, uint64(3), stats.Completed)
	assert.Equal(t, uint64(0), stats.Answered)
	assert.Equal(t, uint64(3), stats.NoAnswer)
	assert.Equal(t, uint64(1), stats.SMSSent)
	assert.Equal(t, 0, stats.QueueDepth)

	msg := h.sms.last()
	assert.Equal(t, "+4930123456", msg.To)
	assert.Contains(t, msg.Body, "Terminerinnerung Praxis Dr. Weber")
	assert.Equal(t, 3, h.trunk.hangupCount())
	assert.Len(t, h.audit.byAction(internal_capability.AuditActionSMS), 1)
}

func TestBusyRetriesAndCounts(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.MaxAttempts = 2
		cfg.RetryDelay = time.Minute
	})
	h.trunk.answerErr = ErrBusy
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.sms.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), h.d.Stats().Busy)

	results := h.results.list()
	require.NotEmpty(t, results)
	assert.Equal(t, OutcomeBusy, results[0].Outcome)
}

func TestOriginateFailureCountsFailed(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.MaxAttempts = 2
		cfg.RetryDelay = time.Minute
	})
	h.trunk.originateErr = errors.New("gateway down")
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.sms.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	stats := h.d.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(2), stats.CallsFailed)

	results := h.results.list()
	require.NotEmpty(t, results)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Error(t, results[0].Err)
}

func TestBusinessHoursHoldUntilOpen(t *testing.T) {
	h := newHarness(t, nil)
	// Early Monday morning, three hours before opening.
	h.clock.set(time.Date(2026, time.March, 16, 6, 0, 0, 0, time.UTC))
	h.submit(t, nil)
	h.start(t)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.trunk.dialCount())

	require.Eventually(t, func() bool { return h.trunk.dialCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	at := h.trunk.dialTimes()[0]
	assert.Equal(t, time.Monday, at.Weekday())
	assert.Equal(t, 9, at.Hour())
}

func TestBusinessHoursContains(t *testing.T) {
	hours := BusinessHours{StartHour: 9, EndHour: 18, WeekdaysOnly: true}

	assert.True(t, hours.Contains(time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC)))
	assert.True(t, hours.Contains(time.Date(2026, time.March, 16, 17, 59, 0, 0, time.UTC)))
	assert.False(t, hours.Contains(time.Date(2026, time.March, 16, 18, 0, 0, 0, time.UTC)))
	assert.False(t, hours.Contains(time.Date(2026, time.March, 16, 8, 59, 0, 0, time.UTC)))
	// Weekend, even inside the hour window.
	assert.False(t, hours.Contains(time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)))

	open := BusinessHours{StartHour: 0, EndHour: 24}
	assert.True(t, open.Contains(time.Date(2026, time.March, 14, 3, 0, 0, 0, time.UTC)))
}

func TestCancelledCallNeverDials(t *testing.T) {
	h := newHarness(t, nil)
	due := h.clock.Now().Add(5 * time.Minute)
	id := h.submit(t, func(c *QueuedCall) { c.ScheduledAt = due })
	h.start(t)

	assert.True(t, h.d.Cancel(id))
	assert.False(t, h.d.Cancel(id))

	require.Eventually(t, func() bool { return h.clock.Now().After(due.Add(time.Minute)) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.trunk.dialCount())
	assert.Equal(t, 0, h.d.QueueDepth())
}

func TestPauseHoldsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.d.Pause()
	h.submit(t, nil)
	h.start(t)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.trunk.dialCount())

	h.d.Resume()
	require.Eventually(t, func() bool { return h.trunk.dialCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestAnsweredCallRunsConversationOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)

	stats := h.d.Stats()
	assert.Equal(t, uint64(1), stats.Answered)
	assert.Equal(t, uint64(0), stats.NoAnswer)

	// No retry sneaks in after a connected call.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.trunk.dialCount())
	assert.Equal(t, 0, h.d.QueueDepth())
	assert.Equal(t, 1, h.trunk.hangupCount())

	results := h.results.list()
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeAnswered, results[0].Outcome)
	assert.Equal(t, internal_outbound.OutcomeInformationDelivered, results[0].CampaignOutcome)
	assert.Equal(t, "chan-1", results[0].CallID)
}

func TestDeclinedMapsFromPolicy(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.outcome = internal_outbound.OutcomePatientDeclined
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)

	stats := h.d.Stats()
	assert.Equal(t, uint64(1), stats.Declined)
	assert.Equal(t, uint64(1), stats.Answered)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.d.QueueDepth())

	results := h.results.list()
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeDeclined, results[0].Outcome)
}

func TestConversationFailureBelowSMSThreshold(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.MaxAttempts = 1 })
	h.runner.err = errors.New("engine unavailable")
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	stats := h.d.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	// One failed attempt stays under the SMS threshold of two.
	assert.Equal(t, uint64(0), stats.SMSSent)
	assert.Equal(t, 0, h.sms.count())
}

func TestSMSConsentDeniedSkipsFallback(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.MaxAttempts = 2
		cfg.RetryDelay = time.Minute
	})
	h.consent.denySMS["pat-1"] = true
	h.trunk.answerErr = ErrNoAnswer
	h.submit(t, nil)
	h.start(t)

	require.Eventually(t, func() bool { return h.d.Stats().Completed == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, h.sms.count())
	assert.Equal(t, uint64(0), h.d.Stats().SMSSent)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.d.Submit(QueuedCall{
		Patient: internal_outbound.Patient{Phone: "+4930123456"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campaign")

	_, err = h.d.Submit(QueuedCall{
		Campaign: internal_outbound.CampaignReminder,
		Patient:  internal_outbound.Patient{Phone: "12"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phone")

	id := h.submit(t, nil)
	assert.NotEmpty(t, id)
	assert.Equal(t, uint64(1), h.d.Stats().Submitted)
	assert.Equal(t, 1, h.d.QueueDepth())
}

func TestSubmitAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.d.Stop()

	_, err := h.d.Submit(QueuedCall{
		Campaign: internal_outbound.CampaignReminder,
		Patient:  internal_outbound.Patient{Phone: "+4930123456"},
	})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	assert.ErrorIs(t, h.d.Start(context.Background()), ErrAlreadyStarted)
}
