// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package agent_call_api answers provider call webhooks and upgrades
// media sockets. Twilio gets TwiML pointing its media stream at us;
// sipgate gets the bridge address as JSON.
package agent_call_api

import (
	"encoding/xml"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxisvoice/api/agent-api/config"
	internal_twilio_telephony "github.com/praxisvoice/api/agent-api/internal/channel/twilio"
	internal_websocket "github.com/praxisvoice/api/agent-api/internal/channel/websocket"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

type CallApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	service *internal_service.Service
	sockets *internal_websocket.Handler
	streams *internal_twilio_telephony.StreamHandler
}

func New(
	cfg *config.AppConfig,
	logger commons.Logger,
	service *internal_service.Service,
	sockets *internal_websocket.Handler,
	streams *internal_twilio_telephony.StreamHandler,
) *CallApi {
	return &CallApi{cfg: cfg, logger: logger, service: service, sockets: sockets, streams: streams}
}

// twiml mirrors the subset of TwiML the webhook answers with: connect
// the call to our media stream and pass the call id along as a custom
// parameter.
type twiml struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// TwilioWebhook answers a Twilio voice webhook. The call is registered
// before the TwiML goes out so the media stream finds its session.
func (cApi *CallApi) TwilioWebhook(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	if callSid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing CallSid"})
		return
	}

	answer, err := cApi.service.StartInbound(c.Request.Context(), internal_service.InboundCall{
		ChannelUUID: callSid,
		Caller:      c.PostForm("From"),
		Callee:      c.PostForm("To"),
		Provider:    internal_service.ProviderTwilio,
	})
	if err != nil {
		cApi.logger.Errorw("twilio webhook: start inbound", "error", err, "call_sid", callSid)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to accept call"})
		return
	}

	doc := twiml{Connect: twimlConnect{Stream: twimlStream{
		URL: cApi.streamURL(c),
		Parameters: []twimlParameter{
			{Name: internal_service.ParamCallID, Value: answer.CallID},
		},
	}}}
	body, err := xml.Marshal(doc)
	if err != nil {
		cApi.logger.Errorw("twilio webhook: render twiml", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "twiml rendering failed"})
		return
	}
	c.Data(http.StatusOK, "application/xml", append([]byte(xml.Header), body...))
}

// streamURL derives the wss endpoint Twilio should connect back to,
// honouring the proxy's forwarded host when one is set.
func (cApi *CallApi) streamURL(c *gin.Context) string {
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	return "wss://" + host + "/v1/twilio/stream"
}

// sipgateNewCall is the sipgate.io push payload for a new inbound call.
type sipgateNewCall struct {
	Event  string `json:"event" form:"event"`
	CallID string `json:"callId" form:"callId"`
	From   string `json:"from" form:"from"`
	To     string `json:"to" form:"to"`
}

// SipgateWebhook answers a sipgate.io new-call push with the bridge
// address the PBX should send media to.
func (cApi *CallApi) SipgateWebhook(c *gin.Context) {
	var req sipgateNewCall
	if err := c.ShouldBind(&req); err != nil || req.CallID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing callId"})
		return
	}

	answer, err := cApi.service.StartInbound(c.Request.Context(), internal_service.InboundCall{
		ChannelUUID: req.CallID,
		Caller:      req.From,
		Callee:      req.To,
		Provider:    internal_service.ProviderSipgate,
	})
	if err != nil {
		cApi.logger.Errorw("sipgate webhook: start inbound",
			"error", err,
			"channel", req.CallID,
			"caller", utils.MaskPhoneNumber(req.From))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to accept call"})
		return
	}
	c.JSON(http.StatusOK, answer)
}

// AudioSocket upgrades a browser test session.
func (cApi *CallApi) AudioSocket(c *gin.Context) {
	cApi.sockets.Handle(c.Writer, c.Request)
}

// TwilioStream upgrades an inbound Twilio media stream.
func (cApi *CallApi) TwilioStream(c *gin.Context) {
	cApi.streams.Handle(c.Writer, c.Request)
}
