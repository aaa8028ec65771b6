// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package agent_health_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxisvoice/api/agent-api/config"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/connectors"
)

type HealthApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	postgres connectors.PostgresConnector
}

func New(cfg *config.AppConfig, logger commons.Logger, postgres connectors.PostgresConnector) *HealthApi {
	return &HealthApi{cfg: cfg, logger: logger, postgres: postgres}
}

// Healthz reports process liveness.
func (hApi *HealthApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": hApi.cfg.Name,
		"version": hApi.cfg.Version,
	})
}

// Readiness additionally pings the database when one is configured.
func (hApi *HealthApi) Readiness(c *gin.Context) {
	if hApi.postgres != nil {
		db := hApi.postgres.DB(c.Request.Context())
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			hApi.logger.Errorw("readiness: database ping failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
