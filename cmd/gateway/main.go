// Command gateway runs the ingress gateway: the authenticated HTTP
// surface that admits notifications, publishes them to the message bus,
// and serves out-of-band user and status-callback ingestion.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/notifyhub/internal/bus"
	"github.com/notifyhub/notifyhub/internal/config"
	"github.com/notifyhub/notifyhub/internal/httpapi"
	"github.com/notifyhub/notifyhub/internal/statusstore"
	"github.com/notifyhub/notifyhub/internal/telemetry"
)

func main() {
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
	logger := telemetry.GetGlobalLogger().WithContext(context.Background())

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.SentryEnvironment}); err != nil {
			logger.WithField("error", err.Error()).Warn("sentry initialization failed, continuing without error capture")
		}
		defer sentry.Flush(2 * time.Second)
	}

	otelCfg := telemetry.LoadConfigFromEnv()
	otelCfg.ServiceName = "notifyhub-gateway"
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

	handlers := httpapi.NewGatewayHandlers(store, b, cfg.IdempotencyTTL, cfg.StatusTTL)
	router := httpapi.NewGatewayRouter(handlers, cfg.APIKey)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("port", cfg.Port).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down gateway")
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithField("error", err.Error()).Error("gateway exited with error")
		os.Exit(1)
	}
}
