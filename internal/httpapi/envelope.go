// Package httpapi implements the gateway's ingress endpoints and each
// worker's read-only status/health surface, both speaking the same
// uniform response envelope over gin.
package httpapi

import (
	"github.com/gin-gonic/gin"

	notifyerrors "github.com/notifyhub/notifyhub/internal/errors"
	"github.com/notifyhub/notifyhub/internal/telemetry"
)

// Meta carries pagination fields. This API has no paginated list
// endpoints, so Meta is always the zero-value placeholder; it is still
// serialized because every response validates against the same envelope
// schema.
type Meta struct {
	Total        int  `json:"total"`
	Limit        int  `json:"limit"`
	Page         int  `json:"page"`
	TotalPages   int  `json:"total_pages"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
}

// Envelope is the uniform response shape every endpoint in this package
// returns.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
	Meta    Meta        `json:"meta"`
}

// respondOK writes a successful envelope.
func respondOK(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: message})
}

// respondError converts err to an *errors.AppError (wrapping it as an
// internal error if it isn't one already), attaches the request's
// correlation ID, logs it, and writes the matching envelope.
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*notifyerrors.AppError)
	if !ok {
		appErr = notifyerrors.NewInternalError("unexpected error", err)
	}
	appErr = appErr.WithCorrelationID(telemetry.GetCorrelationID(c.Request.Context()))

	logger := telemetry.LogFromContext(c.Request.Context())
	logger.WithFields(map[string]interface{}{
		"error_type": string(appErr.Type),
		"error_code": appErr.Code,
	}).Warn(appErr.Error())

	c.JSON(appErr.HTTPStatus, Envelope{
		Success: false,
		Error:   appErr.Code,
		Message: appErr.Message,
	})
}

// respondErrorStatus is used for the handful of paths where a fixed status
// code (400/404/503) is appropriate rather than one derived from an
// AppError's default mapping.
func respondErrorStatus(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{Success: false, Error: code, Message: message})
}
