// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_dialer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_freeswitch "github.com/praxisvoice/api/agent-api/internal/pbx/freeswitch"
)

func newTestTrunk(t *testing.T) *PBXTrunk {
	t.Helper()
	client := internal_freeswitch.NewClient(internal_freeswitch.Config{}, nil)
	t.Cleanup(func() { _ = client.Close() })
	return NewPBXTrunk(client, "sipgate")
}

func waitRegistered(t *testing.T, trunk *PBXTrunk, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		trunk.mu.Lock()
		defer trunk.mu.Unlock()
		_, ok := trunk.waiters[id]
		return ok
	}, time.Second, time.Millisecond)
}

func TestTrunkAnswerUnblocksWait(t *testing.T) {
	trunk := newTestTrunk(t)

	errCh := make(chan error, 1)
	go func() { errCh <- trunk.WaitForAnswer(context.Background(), "uuid-1") }()
	waitRegistered(t, trunk, "uuid-1")

	trunk.onAnswer(internal_freeswitch.Event{
		Name: internal_freeswitch.EventChannelAnswer,
		UUID: "uuid-1",
	})

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after answer")
	}
}

func TestTrunkAnswerByChannelUUID(t *testing.T) {
	trunk := newTestTrunk(t)

	errCh := make(chan error, 1)
	go func() { errCh <- trunk.WaitForAnswer(context.Background(), "uuid-2") }()
	waitRegistered(t, trunk, "uuid-2")

	trunk.onAnswer(internal_freeswitch.Event{
		Name:        internal_freeswitch.EventChannelAnswer,
		UUID:        "other-leg",
		ChannelUUID: "uuid-2",
	})

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after answer")
	}
}

func TestTrunkHangupCauseMapsToError(t *testing.T) {
	cases := []struct {
		name  string
		cause internal_freeswitch.HangupCause
		want  error
	}{
		{"busy", internal_freeswitch.CauseUserBusy, ErrBusy},
		{"no answer", internal_freeswitch.CauseNoAnswer, ErrNoAnswer},
		{"cancelled", internal_freeswitch.CauseOriginatorCancel, ErrNoAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trunk := newTestTrunk(t)

			errCh := make(chan error, 1)
			go func() { errCh <- trunk.WaitForAnswer(context.Background(), "uuid-3") }()
			waitRegistered(t, trunk, "uuid-3")

			trunk.onHangup(internal_freeswitch.Event{
				Name:    internal_freeswitch.EventChannelHangup,
				UUID:    "uuid-3",
				Headers: map[string]string{"Hangup-Cause": string(tc.cause)},
			})

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, tc.want)
			case <-time.After(time.Second):
				t.Fatal("wait did not return after hangup")
			}
		})
	}
}

func TestTrunkWaitTimesOut(t *testing.T) {
	trunk := newTestTrunk(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := trunk.WaitForAnswer(ctx, "uuid-4")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	trunk.mu.Lock()
	defer trunk.mu.Unlock()
	assert.Empty(t, trunk.waiters)
}

// A blocking originate only returns its uuid after the callee picked up,
// so the answer event can land before the wait starts. The outcome must
// be kept, not dropped.
func TestTrunkAnswerBeforeWaitIsKept(t *testing.T) {
	trunk := newTestTrunk(t)

	trunk.onAnswer(internal_freeswitch.Event{Name: internal_freeswitch.EventChannelAnswer, UUID: "uuid-5"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trunk.WaitForAnswer(ctx, "uuid-5"))

	trunk.mu.Lock()
	defer trunk.mu.Unlock()
	assert.Empty(t, trunk.settled)
}

func TestTrunkHangupBeforeWaitIsKept(t *testing.T) {
	trunk := newTestTrunk(t)

	trunk.onHangup(internal_freeswitch.Event{
		Name:    internal_freeswitch.EventChannelHangup,
		UUID:    "uuid-6",
		Headers: map[string]string{"Hangup-Cause": string(internal_freeswitch.CauseUserBusy)},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, trunk.WaitForAnswer(ctx, "uuid-6"), ErrBusy)
}

func TestTrunkFirstOutcomeWins(t *testing.T) {
	trunk := newTestTrunk(t)

	trunk.onAnswer(internal_freeswitch.Event{Name: internal_freeswitch.EventChannelAnswer, UUID: "uuid-7"})
	trunk.onHangup(internal_freeswitch.Event{
		Name:    internal_freeswitch.EventChannelHangup,
		UUID:    "uuid-7",
		Headers: map[string]string{"Hangup-Cause": string(internal_freeswitch.CauseNoAnswer)},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trunk.WaitForAnswer(ctx, "uuid-7"))
}

func TestTrunkStaleOutcomesArePruned(t *testing.T) {
	trunk := newTestTrunk(t)

	trunk.mu.Lock()
	trunk.settled["stale"] = settledAnswer{at: time.Now().Add(-2 * settledRetention)}
	trunk.mu.Unlock()

	trunk.onAnswer(internal_freeswitch.Event{Name: internal_freeswitch.EventChannelAnswer, UUID: "fresh"})

	trunk.mu.Lock()
	defer trunk.mu.Unlock()
	assert.NotContains(t, trunk.settled, "stale")
	assert.Contains(t, trunk.settled, "fresh")
}
