package main

import (
	"callwatch/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/stats", h.GetStats)
		api.GET("/calls", h.ListCalls)
		api.GET("/calls/:call_id", h.GetCall)

		api.POST("/calls/start", h.StartCall)
		api.POST("/calls/:call_id/transfer", h.TransferCall)
		api.POST("/calls/:call_id/end", h.EndCall)

		// Agent runner event ingestion over plain HTTP; the streaming
		// variant is /ws/agent below.
		api.POST("/events", h.IngestEvent)
	}

	r.GET("/ws", h.ObserverWS)
	r.GET("/ws/agent", h.AgentWS)
}
