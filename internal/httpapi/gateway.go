package httpapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/notifyhub/notifyhub/internal/bus"
	notifyerrors "github.com/notifyhub/notifyhub/internal/errors"
	"github.com/notifyhub/notifyhub/internal/notification"
	"github.com/notifyhub/notifyhub/internal/statusstore"
	"github.com/notifyhub/notifyhub/internal/telemetry"
)

// GatewayHandlers implements the ingress gateway's three write endpoints
// and its liveness check.
type GatewayHandlers struct {
	store          statusstore.Store
	pub            bus.Publisher
	idempotencyTTL time.Duration
	statusTTL      time.Duration
}

// NewGatewayHandlers builds the gateway handler set.
func NewGatewayHandlers(store statusstore.Store, pub bus.Publisher, idempotencyTTL, statusTTL time.Duration) *GatewayHandlers {
	return &GatewayHandlers{store: store, pub: pub, idempotencyTTL: idempotencyTTL, statusTTL: statusTTL}
}

// CreateNotification implements POST /api/v1/notifications/ and the
// submission algorithm: admission read, pending write, publish, and the
// read-then-overwrite idempotency shortcut the gateway accepts (the
// worker-side IdempotencyCheck is the authoritative guard).
func (h *GatewayHandlers) CreateNotification(c *gin.Context) {
	ctx := c.Request.Context()

	var req notification.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "malformed request body: "+err.Error())
		return
	}
	if !req.NotificationType.Valid() {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "notification_type must be one of: email, push")
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "request_id is required")
		return
	}

	key := statusstore.GatewayAdmissionKey(req.RequestID)

	existing, present, err := h.store.Get(ctx, key)
	if err != nil {
		respondError(c, notifyerrors.NewInternalError("status store unavailable", err))
		return
	}
	if present && existing != nil {
		respondOK(c, 200, existing, "duplicate_request")
		return
	}

	if !notification.Status("").CanTransitionTo(notification.StatusPending) {
		respondError(c, notifyerrors.NewInternalError("illegal status transition to pending", nil))
		return
	}
	if err := h.store.Put(ctx, key, notification.StatusRecord{Status: notification.StatusPending}, h.idempotencyTTL); err != nil {
		respondError(c, notifyerrors.NewInternalError("status store unavailable", err))
		return
	}

	msg := notification.EnqueuedMessage{
		NotificationRequest: req,
		CreatedAt:           time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		respondError(c, notifyerrors.NewInternalError("failed to encode notification", err))
		return
	}

	if err := h.pub.Publish(ctx, string(req.NotificationType), body, req.Priority); err != nil {
		if !notification.StatusPending.CanTransitionTo(notification.StatusFailed) {
			telemetry.LogFromContext(ctx).Error("illegal status transition to failed, not overwriting pending record")
		} else {
			errMsg := err.Error()
			if putErr := h.store.Put(ctx, key, notification.StatusRecord{Status: notification.StatusFailed, Error: &errMsg}, h.idempotencyTTL); putErr != nil {
				telemetry.LogFromContext(ctx).WithField("error", putErr.Error()).Error("failed to record publish failure")
			}
		}
		respondError(c, notifyerrors.NewInternalError("failed to publish notification", err))
		return
	}

	respondOK(c, 202, gin.H{"request_id": req.RequestID}, "accepted")
}

// CreateUser implements POST /api/v1/users/: an out-of-band, fire-and-
// forget producer with no idempotency guard.
func (h *GatewayHandlers) CreateUser(c *gin.Context) {
	ctx := c.Request.Context()

	var payload notification.UserPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "malformed request body: "+err.Error())
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "user_id is required")
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		respondError(c, notifyerrors.NewInternalError("failed to encode user payload", err))
		return
	}

	if err := h.pub.Publish(ctx, "user.created", body, 0); err != nil {
		respondError(c, notifyerrors.NewInternalError("failed to publish user.created", err))
		return
	}

	respondOK(c, 202, gin.H{"user_id": payload.UserID}, "accepted")
}

// IngestStatus implements POST /api/v1/:channel/status/: an external
// status callback, written under its own key family independent of the
// worker's idempotency keys (see DESIGN.md's Open Question Decisions).
func (h *GatewayHandlers) IngestStatus(c *gin.Context) {
	ctx := c.Request.Context()

	channel := notification.Channel(c.Param("channel"))
	if !channel.Valid() {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "unknown channel: "+string(channel))
		return
	}

	var cb notification.StatusCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "malformed request body: "+err.Error())
		return
	}
	switch cb.Status {
	case notification.StatusDelivered, notification.StatusPending, notification.StatusFailed:
	default:
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "status must be one of: delivered, pending, failed")
		return
	}
	if strings.TrimSpace(cb.NotificationID) == "" {
		respondErrorStatus(c, 400, "VALIDATION_ERROR", "notification_id is required")
		return
	}

	record := notification.StatusRecord{NotificationID: cb.NotificationID, Status: cb.Status, Error: cb.Error}
	key := statusstore.CallbackStatusKey(cb.NotificationID)
	if err := h.store.Put(ctx, key, record, h.statusTTL); err != nil {
		respondError(c, notifyerrors.NewInternalError("status store unavailable", err))
		return
	}

	respondOK(c, 200, record, "accepted")
}

// Health implements GET /health: liveness only, no dependency checks.
func (h *GatewayHandlers) Health(c *gin.Context) {
	respondOK(c, 200, gin.H{"status": "ok"}, "healthy")
}
