// Package breaker wraps sony/gobreaker with an error-rate threshold, a
// per-call timeout, and a reset cooldown.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	notifyerrors "github.com/notifyhub/notifyhub/internal/errors"
	"github.com/notifyhub/notifyhub/internal/metrics"
	"github.com/notifyhub/notifyhub/internal/telemetry"
)

// State is one of a breaker's three lifecycle states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings configures a Breaker.
type Settings struct {
	// Name identifies the breaker for logging and metrics (e.g. "smtp", "push").
	Name string
	// CallTimeout bounds a single Fire invocation; a timeout counts as a failure.
	CallTimeout time.Duration
	// ErrorThreshold is the error rate (0..1) that trips the breaker open. The
	// rate is computed over every request since the breaker last changed
	// state; counts are not windowed in time.
	ErrorThreshold float64
	// ResetTimeout is the cooldown before an open breaker allows a half-open probe.
	ResetTimeout time.Duration
	// MinRequests is the minimum sample size before ErrorThreshold is evaluated.
	MinRequests uint32
}

// DefaultSettings returns the baseline breaker tuning for name.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:           name,
		CallTimeout:    10 * time.Second,
		ErrorThreshold: 0.6,
		ResetTimeout:   30 * time.Second,
		MinRequests:    5,
	}
}

// Breaker guards a single external integration; one instance exists per
// adapter, per process.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	name     string
	callTO   time.Duration
}

// New builds a Breaker from settings, wiring state changes into the
// metrics gauge and the structured logger.
func New(settings Settings) *Breaker {
	gb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Interval:    0, // never reset counts on a timer; only on state transition
		Timeout:     settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.ErrorThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, string(toState(to)))
			telemetry.LogFromContext(context.Background()).WithFields(map[string]interface{}{
				"breaker": name,
				"from":    string(toState(from)),
				"to":      string(toState(to)),
			}).Warn("circuit breaker state changed")
		},
	})

	metrics.SetCircuitBreakerState(settings.Name, string(StateClosed))

	return &Breaker{cb: gb, name: settings.Name, callTO: settings.CallTimeout}
}

// Fire invokes f through the breaker, enforcing CallTimeout. When the
// breaker is open, f is never called and a CircuitOpen AppError is
// returned immediately.
func (b *Breaker) Fire(ctx context.Context, f func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.callTO)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- f(callCtx) }()

		select {
		case err := <-done:
			return nil, err
		case <-callCtx.Done():
			return nil, context.DeadlineExceeded
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return notifyerrors.NewCircuitOpenError(b.name)
	}
	return err
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	return toState(b.cb.State())
}

func toState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
