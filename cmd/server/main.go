// Command server runs the campaign API and the provider webhook endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/campaign-delivery/internal/api"
	"github.com/ignite/campaign-delivery/internal/audit"
	"github.com/ignite/campaign-delivery/internal/bootstrap"
	"github.com/ignite/campaign-delivery/internal/config"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/queue"
	"github.com/ignite/campaign-delivery/internal/repository/postgres"
	"github.com/ignite/campaign-delivery/internal/service/campaign"
	"github.com/ignite/campaign-delivery/internal/service/feedback"
	"github.com/ignite/campaign-delivery/internal/service/readiness"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
	"github.com/ignite/campaign-delivery/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	log := bootstrap.Logger(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to database")

	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info("connected to redis")
	}

	m, metricsHandler := bootstrap.Metrics()

	q, _, err := bootstrap.Queue(ctx, cfg, db)
	if err != nil {
		return err
	}
	lookup, err := bootstrap.Settings(ctx, cfg, db)
	if err != nil {
		return err
	}

	suppressionSvc := suppression.NewService(postgres.NewSuppressionRepo(db))
	scorer := readiness.NewScorer(postgres.NewHistoryRepo(db), lookup, suppressionSvc,
		readiness.WithLogger(log.With("component", "readiness")))
	jobs := postgres.NewJobStore(db)

	campaignSvc := campaign.NewService(postgres.NewCampaignRepo(db), campaign.Deps{
		Readiness:   scorer,
		Suppression: suppressionSvc,
		Audience:    postgres.NewGuestAudience(db),
		Audit:       audit.NewPostgresRecorder(db),
		Dispatcher:  queue.NewDispatcher(jobs, q),
		Logger:      log.With("component", "campaigns"),
		Metrics:     m,
	})

	processor := feedback.NewProcessor(jobs, suppressionSvc,
		feedback.WithLogger(log.With("component", "feedback")),
		feedback.WithMetrics(m),
		feedback.WithDeferredDelay(cfg.Scheduler.DeferredRetryDelay()),
	)

	webhookOpts := []worker.WebhookOption{worker.WithWebhookLogger(log.With("component", "webhooks"))}
	if cfg.Webhooks.AutoConfirm {
		webhookOpts = append(webhookOpts, worker.WithAutoConfirm(&http.Client{Timeout: 10 * time.Second}))
	}
	var s3Client *s3.Client
	if cfg.Webhooks.ArchiveBucket != "" {
		awsCfg, err := bootstrap.AWSConfig(ctx, cfg, cfg.Webhooks.ArchiveRegion)
		if err != nil {
			return err
		}
		s3Client = s3.NewFromConfig(awsCfg)
		webhookOpts = append(webhookOpts, worker.WithArchiver(worker.NewS3Archiver(s3Client, cfg.Webhooks.ArchiveBucket)))
	}
	receiver := worker.NewWebhookReceiver(processor, webhookOpts...)

	// An unset client must stay a nil interface for the health check.
	var bucketHeader api.BucketHeader
	if s3Client != nil {
		bucketHeader = s3Client
	}
	router := api.SetupRoutes(api.NewHandlers(campaignSvc, suppressionSvc), api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         api.NewHealthChecker(db, bootstrap.Cmdable(rdb), bucketHeader, cfg.Webhooks.ArchiveBucket),
		Metrics:        metricsHandler,
		SESWebhook:     receiver.HandleSESWebhook,
		WebhookToken:   cfg.Webhooks.SigningSecret,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "queue", cfg.Queue.Backend, "settings", cfg.Settings.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
