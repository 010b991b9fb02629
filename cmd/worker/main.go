// Command worker runs a single channel's WorkerPipeline: it drains that
// channel's queue, drives each delivery through validation, rendering,
// and the circuit-breaker-guarded send adapter, and serves that channel's
// read-only StatusAPI, readiness, and dead-letter stats.
//
// The channel is selected by the CHANNEL environment variable (email or
// push); running two instances with different values gives each channel
// its own process, one WorkerPipeline per channel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/notifyhub/internal/breaker"
	"github.com/notifyhub/notifyhub/internal/bus"
	"github.com/notifyhub/notifyhub/internal/config"
	"github.com/notifyhub/notifyhub/internal/httpapi"
	"github.com/notifyhub/notifyhub/internal/notification"
	"github.com/notifyhub/notifyhub/internal/renderer"
	"github.com/notifyhub/notifyhub/internal/statusstore"
	"github.com/notifyhub/notifyhub/internal/telemetry"
	"github.com/notifyhub/notifyhub/internal/worker"
)

// consumeConcurrency bounds how many deliveries a single worker process
// handles at once; it doubles as the bus prefetch count.
const consumeConcurrency = 8

func main() {
	channel := notification.Channel(os.Getenv("CHANNEL"))
	if !channel.Valid() {
		fmt.Fprintf(os.Stderr, "CHANNEL must be one of: email, push (got %q)\n", channel)
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logLevel := telemetry.LogLevel(cfg.LogLevel)
	if err := telemetry.InitGlobalLogger(&telemetry.LogConfig{Level: logLevel, Format: cfg.LogFormat, Output: "stdout"}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.GetGlobalLogger().WithContext(context.Background()).WithField("channel", string(channel))

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.SentryEnvironment}); err != nil {
			logger.WithField("error", err.Error()).Warn("sentry initialization failed, continuing without error capture")
		}
		defer sentry.Flush(2 * time.Second)
	}

	otelCfg := telemetry.LoadConfigFromEnv()
	otelCfg.ServiceName = "notifyhub-worker-" + string(channel)
	shutdownOTel, err := telemetry.InitializeOpenTelemetry(context.Background(), otelCfg)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("opentelemetry initialization failed, continuing without trace export")
	} else {
		defer shutdownOTel()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := statusstore.New(cfg.RedisURL)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to connect to status store")
		os.Exit(1)
	}
	defer store.Close()

	b, err := bus.ConnectWithRetry(ctx, cfg.RabbitMQURL)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to connect to message bus")
		os.Exit(1)
	}
	defer b.Close()

	if err := b.DeclareTopology(); err != nil {
		logger.WithField("error", err.Error()).Error("failed to declare bus topology")
		os.Exit(1)
	}

	var busReady atomic.Bool
	busReady.Store(true)

	sender, validate, err := buildSender(channel, cfg)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to build channel adapter")
		os.Exit(1)
	}

	render := renderer.New(defaultTemplates())

	pipeline := worker.NewPipeline(worker.Config{
		Channel:     channel,
		MaxAttempts: cfg.MaxAttempts,
		StatusTTL:   cfg.StatusTTL,
		BreakerSettings: breaker.Settings{
			Name:           string(channel),
			CallTimeout:    cfg.BreakerTimeout,
			ErrorThreshold: cfg.BreakerErrorThreshold,
			ResetTimeout:   cfg.BreakerResetTimeout,
			MinRequests:    5,
		},
	}, store, b, render, sender, validate)

	statusHandlers := httpapi.NewStatusHandlers(channel, store, pipeline,
		func(ctx context.Context) error {
			if !busReady.Load() {
				return fmt.Errorf("message bus not ready")
			}
			return nil
		},
		func(ctx context.Context) error { return store.Ping(ctx) },
	)
	router := httpapi.NewWorkerRouter(statusHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.ServicePort,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting consumer")
		queue := bus.Queues[string(channel)]
		if err := b.Consume(groupCtx, queue, consumeConcurrency, pipeline.HandleDelivery); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("port", cfg.ServicePort).Info("status server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down worker")
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithField("error", err.Error()).Error("worker exited with error")
		os.Exit(1)
	}
}

// buildSender constructs the channel adapter and its validation function
// for channel, reading the matching config block.
func buildSender(channel notification.Channel, cfg config.Config) (worker.Sender, func(notification.EnqueuedMessage) error, error) {
	switch channel {
	case notification.ChannelEmail:
		return worker.NewEmailSender(worker.EmailSenderConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.EmailFrom,
		}), worker.ValidateEmail, nil

	case notification.ChannelPush:
		sender, err := worker.NewPushSender(worker.PushSenderConfig{
			ProjectID:   cfg.FirebaseProjectID,
			Endpoint:    cfg.PushEndpoint,
			Credentials: buildFirebaseCredentials(cfg),
			Timeout:     cfg.BreakerTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return sender, worker.ValidatePush, nil

	default:
		return nil, nil, fmt.Errorf("unsupported channel: %s", channel)
	}
}

// buildFirebaseCredentials assembles the minimal service-account JSON
// google.JWTConfigFromJSON expects from the discrete env vars this
// repository loads them from.
func buildFirebaseCredentials(cfg config.Config) []byte {
	if cfg.FirebaseClientEmail == "" || cfg.FirebasePrivateKey == "" {
		return nil
	}
	return []byte(fmt.Sprintf(
		`{"type":"service_account","project_id":%q,"client_email":%q,"private_key":%q,"token_uri":"https://oauth2.googleapis.com/token"}`,
		cfg.FirebaseProjectID, cfg.FirebaseClientEmail, cfg.FirebasePrivateKey,
	))
}

// defaultTemplates is the hand-maintained in-process template map; template
// storage beyond this map is out of scope.
func defaultTemplates() map[string]string {
	return map[string]string{
		"welcome_v1":        "Hi {{name}}, welcome! Get started: {{link}}",
		"reset_password_v1": "Reset your password using this link: {{link}}",
	}
}
