// Pipeline implements the per-channel worker state machine: decode ->
// idempotency check -> validate recipient -> render -> send-through-breaker
// -> outcome classification -> ack/retry/dead-letter.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/notifyhub/notifyhub/internal/breaker"
	"github.com/notifyhub/notifyhub/internal/bus"
	"github.com/notifyhub/notifyhub/internal/metrics"
	"github.com/notifyhub/notifyhub/internal/notification"
	"github.com/notifyhub/notifyhub/internal/renderer"
	"github.com/notifyhub/notifyhub/internal/statusstore"
	"github.com/notifyhub/notifyhub/internal/telemetry"
)

// dlqHealthWindow and dlqAlertThreshold bound a rolling dead-letter
// counter: a sliding count of dead-letters in the last window triggers a
// Sentry alert, purely as observability, not as a scheduling change.
const (
	dlqHealthWindow   = 5 * time.Minute
	dlqAlertThreshold = 10
)

// Config configures one channel's pipeline.
type Config struct {
	Channel        notification.Channel
	MaxAttempts    int
	StatusTTL      time.Duration
	BreakerSettings breaker.Settings
}

// Pipeline drives one channel's deliveries end to end. One Pipeline
// instance exists per channel (email, push); they differ only in the
// Sender and the Validate function supplied at construction.
type Pipeline struct {
	cfg      Config
	store    statusstore.Store
	pub      bus.Publisher
	render   *renderer.Renderer
	sender   Sender
	cb       *breaker.Breaker
	validate func(msg notification.EnqueuedMessage) error

	dlqMu      chan struct{} // binary semaphore guarding dlqCount/dlqWindowStart
	dlqCount   int
	dlqWindowStart time.Time
}

// NewPipeline builds a Pipeline for a single channel.
func NewPipeline(cfg Config, store statusstore.Store, pub bus.Publisher, render *renderer.Renderer, sender Sender, validate func(notification.EnqueuedMessage) error) *Pipeline {
	return &Pipeline{
		cfg:            cfg,
		store:          store,
		pub:            pub,
		render:         render,
		sender:         sender,
		cb:             breaker.New(cfg.BreakerSettings),
		validate:       validate,
		dlqMu:          make(chan struct{}, 1),
		dlqWindowStart: time.Time{},
	}
}

// HandleDelivery is the bus.Handler entry point: one call per delivery.
// It always returns nil, so the bus layer acks every delivery: business-
// level failures (Validating, Rendering, Sending) are fully handled inside
// the state machine, and a decode failure is logged and dropped (no retry
// value), matching the DecodeFailed terminal state.
func (p *Pipeline) HandleDelivery(ctx context.Context, body []byte, priority int) error {
	logger := telemetry.LogFromContext(ctx).WithField("channel", string(p.cfg.Channel))

	// Decoded / DecodeFailed
	var msg notification.EnqueuedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.WithField("error", err.Error()).Warn("decode failed, dropping message")
		return nil
	}
	if msg.NotificationID == "" {
		msg.NotificationID = fmt.Sprintf("%s-%s", p.cfg.Channel, msg.RequestID)
	}
	logger = logger.WithField("request_id", msg.RequestID).WithField("notification_id", msg.NotificationID)

	// IdempotencyCheck
	key := statusstore.IdempotencyKey(p.cfg.Channel, msg.RequestID)
	existing, present, err := p.store.Get(ctx, key)
	if err != nil {
		logger.WithField("error", err.Error()).Error("status store read failed, treating as delivery error")
		p.failAndRoute(ctx, msg, logger, fmt.Errorf("status store unavailable: %w", err))
		return nil
	}
	var currentStatus notification.Status
	if present && existing != nil {
		currentStatus = existing.Status
	}
	// Only a terminal outcome makes this delivery a true duplicate. A
	// record already at processing is this request's own scheduled retry
	// (failAndRoute republishes under the same request_id after a failed
	// attempt) and must be allowed through Validating/Rendering/Sending
	// again, or attempts would never advance past 1.
	if currentStatus == notification.StatusDelivered || currentStatus == notification.StatusFailed {
		logger.WithField("status", string(currentStatus)).Info("idempotent hit, dropping duplicate delivery")
		return nil
	}

	// Status transition to processing must be durable before the send is
	// issued. Rewriting processing over an existing processing record is
	// this retry's idempotent continuation, not a new transition.
	if currentStatus != notification.StatusProcessing && !currentStatus.CanTransitionTo(notification.StatusProcessing) {
		logger.WithField("status", string(currentStatus)).Error("status store in an unexpected state, dropping delivery")
		return nil
	}
	if err := p.store.Put(ctx, key, notification.StatusRecord{
		NotificationID: msg.NotificationID,
		Status:         notification.StatusProcessing,
	}, p.cfg.StatusTTL); err != nil {
		logger.WithField("error", err.Error()).Error("failed to write processing status")
		p.failAndRoute(ctx, msg, logger, fmt.Errorf("status store unavailable: %w", err))
		return nil
	}

	// Validating
	if err := p.validate(msg); err != nil {
		logger.WithField("error", err.Error()).Warn("recipient validation failed")
		p.failAndRoute(ctx, msg, logger, err)
		return nil
	}

	// Rendering
	body2 := p.render.Render(msg.TemplateCode, msg.Variables)

	// Sending
	start := time.Now()
	sendErr := p.cb.Fire(ctx, func(ctx context.Context) error {
		result := p.sender.Send(ctx, msg, body2)
		if !result.Success {
			return result.Error
		}
		return nil
	})
	metrics.ObserveDeliveryDuration(string(p.cfg.Channel), time.Since(start).Seconds())

	if sendErr != nil {
		logger.WithField("error", sendErr.Error()).Warn("send failed")
		p.failAndRoute(ctx, msg, logger, sendErr)
		return nil
	}

	// Delivered
	sentAt := time.Now().UTC().Format(time.RFC3339)
	if err := p.store.Put(ctx, key, notification.StatusRecord{
		NotificationID: msg.NotificationID,
		Status:         notification.StatusDelivered,
		SentAt:         &sentAt,
	}, p.cfg.StatusTTL); err != nil {
		logger.WithField("error", err.Error()).Error("failed to write delivered status")
	}
	metrics.RecordDeliveryAttempt(string(p.cfg.Channel), "delivered")
	logger.Info("delivered")
	return nil
}

// failAndRoute implements Failing/Retrying/DeadLettering: increment
// attempts, and either schedule a republish or dead-letter.
func (p *Pipeline) failAndRoute(ctx context.Context, msg notification.EnqueuedMessage, logger *telemetry.ContextualLogger, cause error) {
	msg.Attempts++ // attempts is monotonically non-decreasing across republishes

	if msg.Attempts >= p.cfg.MaxAttempts {
		p.deadLetter(ctx, msg, logger, cause)
		return
	}

	delay := Backoff(msg.Attempts)
	logger.WithField("attempt", msg.Attempts).WithField("delay_ms", delay.Milliseconds()).Info("scheduling retry")
	metrics.RecordDeliveryAttempt(string(p.cfg.Channel), "retrying")

	// The republish scheduler starts before the ack of the original
	// delivery happens (the bus layer acks immediately on a nil handler
	// return); the retried message is a new delivery under the same
	// request_id.
	go func() {
		time.Sleep(delay)
		body, err := json.Marshal(msg)
		if err != nil {
			logger.WithField("error", err.Error()).Error("failed to encode retry payload")
			return
		}
		if err := p.pub.Publish(context.Background(), string(p.cfg.Channel), body, msg.Priority); err != nil {
			logger.WithField("error", err.Error()).Error("failed to republish retry")
		}
	}()
}

// deadLetter builds a FailedRecord, publishes it to the failed routing
// key, and writes the terminal failed StatusRecord — in that order: the
// dead-letter publish precedes the ack, which happens automatically once
// HandleDelivery returns nil to the bus.
func (p *Pipeline) deadLetter(ctx context.Context, msg notification.EnqueuedMessage, logger *telemetry.ContextualLogger, cause error) {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	record := notification.FailedRecord{
		EnqueuedMessage: msg,
		Error:           cause.Error(),
		FailedAt:        failedAt,
		NotificationID:  msg.NotificationID,
	}

	body, err := json.Marshal(record)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to encode dead-letter record")
		return
	}
	if err := p.pub.Publish(ctx, string(notification.ChannelFailed), body, msg.Priority); err != nil {
		logger.WithField("error", err.Error()).Error("failed to publish dead-letter, status not updated")
		return
	}

	key := statusstore.IdempotencyKey(p.cfg.Channel, msg.RequestID)
	errMsg := cause.Error()
	if err := p.store.Put(ctx, key, notification.StatusRecord{
		NotificationID: msg.NotificationID,
		Status:         notification.StatusFailed,
		Error:          &errMsg,
		FailedAt:       &failedAt,
	}, p.cfg.StatusTTL); err != nil {
		logger.WithField("error", err.Error()).Error("failed to write failed status")
	}

	metrics.RecordDeliveryAttempt(string(p.cfg.Channel), "dead_lettered")
	logger.WithField("error", errMsg).Warn("dead-lettered")
	p.recordDLQAndAlert(errMsg)
}

// recordDLQAndAlert maintains a rolling count of dead-letters and fires a
// Sentry alert if the rate crosses a threshold within dlqHealthWindow.
func (p *Pipeline) recordDLQAndAlert(errMsg string) {
	p.dlqMu <- struct{}{}
	defer func() { <-p.dlqMu }()

	now := time.Now()
	if now.Sub(p.dlqWindowStart) > dlqHealthWindow {
		p.dlqWindowStart = now
		p.dlqCount = 0
	}
	p.dlqCount++

	if p.dlqCount == dlqAlertThreshold {
		sentry.CaptureMessage(fmt.Sprintf(
			"notifyhub: dead-letter rate threshold crossed for channel %s (%d in %s); last error: %s",
			p.cfg.Channel, p.dlqCount, dlqHealthWindow, errMsg,
		))
	}
}

// DLQStats is a snapshot of this pipeline's rolling dead-letter counter,
// surfaced by the worker-only stats endpoint.
type DLQStats struct {
	Channel     notification.Channel `json:"channel"`
	Count       int                  `json:"count_in_window"`
	WindowStart time.Time            `json:"window_start"`
}

// DLQStats returns a snapshot of the current dead-letter window.
func (p *Pipeline) DLQStats() DLQStats {
	p.dlqMu <- struct{}{}
	defer func() { <-p.dlqMu }()
	return DLQStats{Channel: p.cfg.Channel, Count: p.dlqCount, WindowStart: p.dlqWindowStart}
}

// Backoff computes the exponential retry delay: 2000*2^(attempts-1) ms.
func Backoff(attempts int) time.Duration {
	ms := 2000 * math.Pow(2, float64(attempts-1))
	return time.Duration(ms) * time.Millisecond
}

// ValidateEmail checks that metadata.email is non-empty.
func ValidateEmail(msg notification.EnqueuedMessage) error {
	meta := notification.ExtractEmailMetadata(msg.Metadata)
	if strings.TrimSpace(meta.Email) == "" {
		return fmt.Errorf("email_missing")
	}
	return nil
}

// ValidatePush checks that metadata.push_token is a string of length >= 10.
func ValidatePush(msg notification.EnqueuedMessage) error {
	meta := notification.ExtractPushMetadata(msg.Metadata)
	if len(meta.Token) < 10 {
		return fmt.Errorf("push_token_missing")
	}
	return nil
}
