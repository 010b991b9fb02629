package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"

	notifyerrors "github.com/notifyhub/notifyhub/internal/errors"
	"github.com/notifyhub/notifyhub/internal/notification"
	"github.com/notifyhub/notifyhub/internal/statusstore"
	"github.com/notifyhub/notifyhub/internal/worker"
)

// DLQStatsProvider is implemented by a worker.Pipeline; narrowed here so
// this package depends only on the method it needs.
type DLQStatsProvider interface {
	DLQStats() worker.DLQStats
}

// ReadinessChecker reports whether a dependency has completed its initial
// handshake. cmd/worker supplies closures wrapping its bus/Redis clients.
type ReadinessChecker func(ctx context.Context) error

// StatusHandlers implements a worker's read-only surface: its StatusAPI,
// readiness probe, and dead-letter stats endpoint.
type StatusHandlers struct {
	channel notification.Channel
	store   statusstore.Store
	pipe    DLQStatsProvider
	checks  []ReadinessChecker
}

// NewStatusHandlers builds a worker's StatusHandlers for channel.
func NewStatusHandlers(channel notification.Channel, store statusstore.Store, pipe DLQStatsProvider, checks ...ReadinessChecker) *StatusHandlers {
	return &StatusHandlers{channel: channel, store: store, pipe: pipe, checks: checks}
}

// GetStatus implements GET /status/:request_id.
func (h *StatusHandlers) GetStatus(c *gin.Context) {
	requestID := c.Param("request_id")
	key := statusstore.IdempotencyKey(h.channel, requestID)

	record, present, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, notifyerrors.NewInternalError("status store unavailable", err))
		return
	}
	if !present {
		respondErrorStatus(c, 404, "NOT_FOUND", "no status recorded for this request_id")
		return
	}
	respondOK(c, 200, record, "ok")
}

// Health implements GET /health: liveness only.
func (h *StatusHandlers) Health(c *gin.Context) {
	respondOK(c, 200, gin.H{"status": "ok"}, "healthy")
}

// Ready implements GET /ready: 503 until every registered dependency
// check succeeds, grounded on the pack's push-worker /healthz-/readyz
// split.
func (h *StatusHandlers) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			respondErrorStatus(c, 503, "NOT_READY", err.Error())
			return
		}
	}
	respondOK(c, 200, gin.H{"status": "ready"}, "ready")
}

// DLQStats implements GET /internal/dlq/stats: a worker-only operational
// surface for dead-letter counts, not exposed to external API clients.
func (h *StatusHandlers) DLQStats(c *gin.Context) {
	respondOK(c, 200, h.pipe.DLQStats(), "ok")
}
