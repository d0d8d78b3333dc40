package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/projectpulse/ingest/core"
)

// SetupRoutes mounts the ingest surface:
//
//	POST /webhooks/tracker  inbound tracker deliveries
//	POST /webhooks/vcs      inbound vcs deliveries
//	GET  /webhooks/refresh  operator-triggered subscription rotation
//	GET  /health            liveness probe
func SetupRoutes(router *gin.Engine, webhooks *WebhookHandler, refresh *RefreshHandler) {
	router.Use(CorrelationIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	group := router.Group("/webhooks")
	{
		group.POST("/tracker", webhooks.HandleDelivery(core.SourceTracker))
		group.POST("/vcs", webhooks.HandleDelivery(core.SourceVCS))
		group.GET("/refresh", refresh.HandleRefresh)
	}
}
