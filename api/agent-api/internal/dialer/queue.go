// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_dialer

import (
	"time"

	internal_outbound "github.com/praxisvoice/api/agent-api/internal/outbound"
)

// Priority orders queued calls; lower dials first.
type Priority int

const (
	PriorityUrgent Priority = 1
	PriorityHigh   Priority = 3
	PriorityNormal Priority = 5
	PriorityLow    Priority = 7
)

// QueuedCall is one pending outbound call.
type QueuedCall struct {
	ID          string
	Campaign    internal_outbound.Campaign
	Patient     internal_outbound.Patient
	Appointment internal_outbound.Appointment
	Priority    Priority
	ScheduledAt time.Time
	Attempt     int
	Metadata    map[string]string

	smsSent bool
	seq     uint64
	index   int
}

// callQueue is a min-heap ordered by priority, then scheduled time, then
// insertion order. Only the dialer mutates it, always under the dialer
// mutex.
type callQueue []*QueuedCall

func (q callQueue) Len() int { return len(q) }

func (q callQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	if !q[i].ScheduledAt.Equal(q[j].ScheduledAt) {
		return q[i].ScheduledAt.Before(q[j].ScheduledAt)
	}
	return q[i].seq < q[j].seq
}

func (q callQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *callQueue) Push(x any) {
	call := x.(*QueuedCall)
	call.index = len(*q)
	*q = append(*q, call)
}

func (q *callQueue) Pop() any {
	old := *q
	n := len(old)
	call := old[n-1]
	old[n-1] = nil
	call.index = -1
	*q = old[:n-1]
	return call
}
