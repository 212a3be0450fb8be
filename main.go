package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hashicorp/go-multierror"

	"github.com/NMMonteiro/apps4eu-marketplace/handlers"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/billing"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/config"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/email"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/fulfillment"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/identity"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/jobs"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/metrics"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/objectstore"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/ratelimit"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/version"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

const (
	shutdownTimeout    = 15 * time.Second
	limiterIdleTimeout = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		logger.Error("Server exited with error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func run() error {
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.AppEnv == "development" {
		logger.UseConsole()
	}

	appVersion := version.Load("VERSION")

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.AppEnv,
			Release:          appVersion,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			return fmt.Errorf("sentry.Init: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	m := metrics.New()

	var mailer email.Sender = email.LogSender{}
	if cfg.EmailService == "smtp" {
		mailer = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		})
	}

	var presigner objectstore.Presigner
	if cfg.StorageEnabled() {
		s3Store, err := objectstore.NewS3Store(ctx, objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
		})
		if err != nil {
			return err
		}
		presigner = s3Store
	} else {
		logger.Warn("Object storage not configured, downloads disabled")
	}

	gateway := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	})

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)

	server := handlers.NewHttpServer(handlers.Deps{
		Storage: store,
		Identity: identity.New(identity.Config{
			URL:            cfg.SupabaseURL,
			AnonKey:        cfg.SupabaseAnonKey,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			JWTSecret:      cfg.SupabaseJWTSecret,
		}),
		Gateway:        gateway,
		Checkout:       billing.NewCheckoutService(store, gateway, cfg.SiteURL, cfg.Currency),
		Fulfillment:    fulfillment.New(store, mailer, m, cfg.SiteURL),
		Presigner:      presigner,
		Mailer:         mailer,
		Metrics:        m,
		Limiter:        limiter,
		SiteURL:        cfg.SiteURL,
		Currency:       cfg.Currency,
		DownloadTTL:    cfg.DownloadURLTTL,
		AllowedOrigins: cfg.AllowedOrigins,
		VersionFile:    "VERSION",
	})

	sweeper := jobs.NewLicenseSweeper(store, m)
	if err := sweeper.Start(cfg.LicenseSweepSchedule); err != nil {
		return err
	}

	go cleanupLimiter(ctx, limiter)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Apps4EU Marketplace API starting", map[string]interface{}{
			"version": appVersion,
			"port":    cfg.Port,
			"env":     cfg.AppEnv,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result *multierror.Error
	select {
	case err := <-serveErr:
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	sweeper.Stop(shutdownCtx)
	if err := store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close storage: %w", err))
	}

	logger.Info("Server stopped")
	return result.ErrorOrNil()
}

func cleanupLimiter(ctx context.Context, limiter *ratelimit.KeyedLimiter) {
	ticker := time.NewTicker(limiterIdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(limiterIdleTimeout); n > 0 {
				logger.Debug("Dropped idle rate limit entries", map[string]interface{}{
					"count": n,
				})
			}
		}
	}
}
