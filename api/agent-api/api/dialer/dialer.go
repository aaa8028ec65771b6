// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package agent_dialer_api is the campaign control surface: practice
// software submits outbound calls here and steers the queue.
package agent_dialer_api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/praxisvoice/api/agent-api/config"
	internal_dialer "github.com/praxisvoice/api/agent-api/internal/dialer"
	internal_outbound "github.com/praxisvoice/api/agent-api/internal/outbound"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	"github.com/praxisvoice/pkg/commons"
)

type DialerApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	dialer  *internal_dialer.Dialer
	service *internal_service.Service
}

func New(cfg *config.AppConfig, logger commons.Logger, dialer *internal_dialer.Dialer, service *internal_service.Service) *DialerApi {
	return &DialerApi{cfg: cfg, logger: logger, dialer: dialer, service: service}
}

// submitRequest is the campaign call submission payload.
type submitRequest struct {
	Campaign string `json:"campaign" binding:"required"`
	Patient  struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		FirstName string `json:"first_name"`
		Phone     string `json:"phone" binding:"required"`
	} `json:"patient" binding:"required"`
	Appointment struct {
		Date     string `json:"date"`
		Time     string `json:"time"`
		Provider string `json:"provider"`
	} `json:"appointment"`
	Priority    string            `json:"priority"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Metadata    map[string]string `json:"metadata"`
}

func parsePriority(s string) (internal_dialer.Priority, bool) {
	switch s {
	case "urgent":
		return internal_dialer.PriorityUrgent, true
	case "high":
		return internal_dialer.PriorityHigh, true
	case "normal", "":
		return internal_dialer.PriorityNormal, true
	case "low":
		return internal_dialer.PriorityLow, true
	default:
		return 0, false
	}
}

// Submit queues one outbound campaign call.
func (dApi *DialerApi) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	priority, ok := parsePriority(req.Priority)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority " + req.Priority})
		return
	}

	id, err := dApi.dialer.Submit(internal_dialer.QueuedCall{
		Campaign: internal_outbound.Campaign(req.Campaign),
		Patient: internal_outbound.Patient{
			ID:        req.Patient.ID,
			Name:      req.Patient.Name,
			FirstName: req.Patient.FirstName,
			Phone:     req.Patient.Phone,
		},
		Appointment: internal_outbound.Appointment{
			Date:     req.Appointment.Date,
			Time:     req.Appointment.Time,
			Provider: req.Appointment.Provider,
		},
		Priority:    priority,
		ScheduledAt: req.ScheduledAt,
		Metadata:    req.Metadata,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// Cancel removes a queued call; calls already dialing are unaffected.
func (dApi *DialerApi) Cancel(c *gin.Context) {
	if !dApi.dialer.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not queued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
}

// Pause stops dequeuing; active calls run to completion.
func (dApi *DialerApi) Pause(c *gin.Context) {
	dApi.dialer.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (dApi *DialerApi) Resume(c *gin.Context) {
	dApi.dialer.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Stats merges dialer counters with the telephony facade's.
func (dApi *DialerApi) Stats(c *gin.Context) {
	ds := dApi.dialer.Stats()
	ss := dApi.service.Stats()
	c.JSON(http.StatusOK, gin.H{
		"dialer": gin.H{
			"submitted":    ds.Submitted,
			"completed":    ds.Completed,
			"answered":     ds.Answered,
			"no_answer":    ds.NoAnswer,
			"busy":         ds.Busy,
			"failed":       ds.Failed,
			"declined":     ds.Declined,
			"calls_failed": ds.CallsFailed,
			"sms_sent":     ds.SMSSent,
			"active":       ds.Active,
			"queue_depth":  ds.QueueDepth,
		},
		"telephony": gin.H{
			"active_calls":     ss.ActiveCalls,
			"awaiting_media":   ss.AwaitingMedia,
			"sessions_started": ss.SessionsStarted,
			"sessions_ended":   ss.SessionsEnded,
			"claim_timeouts":   ss.ClaimTimeouts,
			"media_orphans":    ss.MediaOrphans,
		},
	})
}

// ActiveCalls lists live sessions across all transports.
func (dApi *DialerApi) ActiveCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": dApi.service.ActiveCalls()})
}
