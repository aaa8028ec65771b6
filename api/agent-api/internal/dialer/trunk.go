// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_dialer

import (
	"context"
	"sync"
	"time"

	internal_freeswitch "github.com/praxisvoice/api/agent-api/internal/pbx/freeswitch"
)

// settledRetention bounds how long an unclaimed channel outcome is kept.
// Stray events for calls nobody waits on age out instead of accumulating.
const settledRetention = time.Minute

type settledAnswer struct {
	err error
	at  time.Time
}

// PBXTrunk adapts the event-socket client to the Trunk interface. Answer
// detection is level-triggered: channel outcomes are recorded as events
// arrive, so an answer that lands while Originate is still blocked on the
// socket reply is visible when WaitForAnswer starts.
type PBXTrunk struct {
	client  *internal_freeswitch.Client
	gateway string

	mu      sync.Mutex
	waiters map[string]chan error
	settled map[string]settledAnswer
}

func NewPBXTrunk(client *internal_freeswitch.Client, gateway string) *PBXTrunk {
	t := &PBXTrunk{
		client:  client,
		gateway: gateway,
		waiters: make(map[string]chan error),
		settled: make(map[string]settledAnswer),
	}
	client.On(internal_freeswitch.EventChannelAnswer, t.onAnswer)
	client.On(internal_freeswitch.EventChannelHangup, t.onHangup)
	return t
}

func (t *PBXTrunk) Originate(ctx context.Context, call OriginateCall) (string, error) {
	return t.client.Originate(ctx, internal_freeswitch.OriginateRequest{
		Destination:    call.Destination,
		Gateway:        t.gateway,
		CallerIDNumber: call.CallerID,
		Timeout:        call.Timeout,
		Variables:      call.Variables,
	})
}

func (t *PBXTrunk) WaitForAnswer(ctx context.Context, callID string) error {
	t.mu.Lock()
	if s, ok := t.settled[callID]; ok {
		delete(t.settled, callID)
		t.mu.Unlock()
		return s.err
	}
	ch := make(chan error, 1)
	t.waiters[callID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiters, callID)
		t.mu.Unlock()
	}()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *PBXTrunk) Hangup(ctx context.Context, callID string, cause string) error {
	return t.client.Hangup(ctx, callID, internal_freeswitch.HangupCause(cause))
}

func (t *PBXTrunk) onAnswer(ev internal_freeswitch.Event) {
	t.notify(ev.UUID, nil)
	if ev.ChannelUUID != ev.UUID {
		t.notify(ev.ChannelUUID, nil)
	}
}

// onHangup settles a pending wait when the channel dies before pickup.
func (t *PBXTrunk) onHangup(ev internal_freeswitch.Event) {
	err := ErrNoAnswer
	if ev.HangupCause() == internal_freeswitch.CauseUserBusy {
		err = ErrBusy
	}
	t.notify(ev.UUID, err)
	if ev.ChannelUUID != ev.UUID {
		t.notify(ev.ChannelUUID, err)
	}
}

// notify settles the waiter for uuid, or records the outcome for a wait
// that has not started yet. The first event for a channel wins.
func (t *PBXTrunk) notify(uuid string, err error) {
	if uuid == "" {
		return
	}
	now := time.Now()
	t.mu.Lock()
	ch, ok := t.waiters[uuid]
	if ok {
		delete(t.waiters, uuid)
	} else if _, seen := t.settled[uuid]; !seen {
		t.settled[uuid] = settledAnswer{err: err, at: now}
	}
	t.pruneLocked(now)
	t.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (t *PBXTrunk) pruneLocked(now time.Time) {
	for id, s := range t.settled {
		if now.Sub(s.at) > settledRetention {
			delete(t.settled, id)
		}
	}
}
