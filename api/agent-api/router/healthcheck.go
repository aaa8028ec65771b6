package agent_routers

import (
	"github.com/gin-gonic/gin"

	agent_health_api "github.com/praxisvoice/api/agent-api/api/health"
	"github.com/praxisvoice/api/agent-api/config"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/connectors"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, postgres connectors.PostgresConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	hApi := agent_health_api.New(cfg, logger, postgres)
	{
		apiv1.GET("/readiness/", hApi.Readiness)
		apiv1.GET("/healthz/", hApi.Healthz)
	}
}
