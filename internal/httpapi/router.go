package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/notifyhub/notifyhub/internal/metrics"
	"github.com/notifyhub/notifyhub/internal/middleware"
)

// NewGatewayRouter wires the ingress gateway's endpoints behind the
// shared logging middleware and an API-key guard.
func NewGatewayRouter(h *GatewayHandlers, apiKey string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggingMiddleware(middleware.DefaultLoggingConfig()))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1", APIKeyAuth(apiKey))
	v1.POST("/notifications/", h.CreateNotification)
	v1.POST("/users/", h.CreateUser)
	v1.POST("/:channel/status/", h.IngestStatus)

	return r
}

// NewWorkerRouter wires one channel worker's read-only surface: its
// StatusAPI, liveness, readiness, and dead-letter stats.
func NewWorkerRouter(h *StatusHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggingMiddleware(middleware.DefaultLoggingConfig()))

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/status/:request_id", h.GetStatus)
	r.GET("/internal/dlq/stats", h.DLQStats)

	return r
}
