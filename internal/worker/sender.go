// Package worker implements the per-channel WorkerPipeline state machine
// and its channel adapters (email over SMTP, push over an FCM-shaped HTTP
// endpoint).
package worker

import (
	"context"

	"github.com/notifyhub/notifyhub/internal/notification"
)

// SendResult is the outcome of one adapter send call.
type SendResult struct {
	Success bool
	Error   error
}

// Sender is the channel adapter interface the WorkerPipeline drives
// through the CircuitBreaker. Each channel (email, push) has its own
// implementation.
type Sender interface {
	Send(ctx context.Context, msg notification.EnqueuedMessage, body string) SendResult
	Channel() notification.Channel
}
