// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package agent_routers

import (
	"github.com/gin-gonic/gin"

	agent_call_api "github.com/praxisvoice/api/agent-api/api/call"
	"github.com/praxisvoice/api/agent-api/config"
	internal_twilio_telephony "github.com/praxisvoice/api/agent-api/internal/channel/twilio"
	internal_websocket "github.com/praxisvoice/api/agent-api/internal/channel/websocket"
	internal_security "github.com/praxisvoice/api/agent-api/internal/security"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	"github.com/praxisvoice/pkg/commons"
)

// CallRoutes registers the provider webhooks and the media socket
// upgrades. Webhooks sit behind the signature guard; the sockets carry
// their own session claim and stay open.
func CallRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	guard *internal_security.Guard,
	service *internal_service.Service,
	sockets *internal_websocket.Handler,
	streams *internal_twilio_telephony.StreamHandler,
) {
	logger.Info("CallRoutes added to engine.")
	cApi := agent_call_api.New(cfg, logger, service, sockets, streams)

	webhooks := engine.Group("v1/call/webhook")
	{
		webhooks.POST("/twilio", guard.RequireTwilio(), cApi.TwilioWebhook)
		webhooks.POST("/sipgate", guard.RequireSipgate(), cApi.SipgateWebhook)
	}

	media := engine.Group("v1")
	{
		media.GET("/audiosocket", cApi.AudioSocket)
		media.GET("/twilio/stream", cApi.TwilioStream)
	}
}
