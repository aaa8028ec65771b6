// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package agent_routers

import (
	"github.com/gin-gonic/gin"

	agent_dialer_api "github.com/praxisvoice/api/agent-api/api/dialer"
	"github.com/praxisvoice/api/agent-api/config"
	internal_dialer "github.com/praxisvoice/api/agent-api/internal/dialer"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	"github.com/praxisvoice/pkg/commons"
)

// DialerRoutes registers the campaign control surface behind bearer
// auth. Registered only when the dialer is enabled.
func DialerRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	dialer *internal_dialer.Dialer,
	service *internal_service.Service,
) {
	logger.Info("DialerRoutes added to engine.")
	dApi := agent_dialer_api.New(cfg, logger, dialer, service)

	apiv1 := engine.Group("v1/dialer", RequireAPIAuth([]byte(cfg.Secret)))
	{
		apiv1.POST("/calls", dApi.Submit)
		apiv1.POST("/calls/:id/cancel", dApi.Cancel)
		apiv1.POST("/pause", dApi.Pause)
		apiv1.POST("/resume", dApi.Resume)
		apiv1.GET("/stats", dApi.Stats)
		apiv1.GET("/calls/active", dApi.ActiveCalls)
	}
}
