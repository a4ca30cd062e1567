// Command worker runs the delivery pool, the campaign scheduler, the queue
// recovery sweep and retention cleanup.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-delivery/internal/api"
	"github.com/ignite/campaign-delivery/internal/bootstrap"
	"github.com/ignite/campaign-delivery/internal/config"
	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/mailing"
	"github.com/ignite/campaign-delivery/internal/notify"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/repository/postgres"
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
		log.Error("worker exited", "error", err)
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

	redisClient, err := bootstrap.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	rdb := bootstrap.Cmdable(redisClient)

	m, metricsHandler := bootstrap.Metrics()

	q, reaper, err := bootstrap.Queue(ctx, cfg, db)
	if err != nil {
		return err
	}
	limiter, throttled, err := bootstrap.RateLimiters(cfg, rdb)
	if err != nil {
		return err
	}

	senders, err := buildSenders(ctx, cfg, log)
	if err != nil {
		return err
	}

	jobs := postgres.NewJobStore(db)

	delivery := worker.NewDeliveryWorker(q, jobs, senders, mailing.NewTemplateService(), limiter,
		worker.DeliveryConfig{
			WorkerID:        cfg.Worker.ID,
			Concurrency:     cfg.Worker.Concurrency,
			BatchSize:       cfg.Worker.BatchSize,
			PollInterval:    cfg.Worker.PollInterval(),
			MaxAttempts:     cfg.Worker.MaxAttempts,
			BaseBackoff:     cfg.Worker.BaseBackoff(),
			MaxBackoff:      cfg.Worker.MaxBackoff(),
			ProviderTimeout: cfg.Worker.ProviderTimeout(),
		},
		worker.WithThrottledLimiter(throttled),
		worker.WithDeliveryLogger(log.With("component", "delivery")),
		worker.WithDeliveryMetrics(m),
	)

	scheduler := worker.NewCampaignScheduler(worker.SchedulerDeps{
		Store:         jobs,
		Queue:         q,
		Notifications: notify.NewNotifier(db),
		Analytics:     postgres.NewPromotionRepo(db),
		Webhooks: notify.NewWebhookDispatcher(notify.NewPostgresSubscriptions(db), nil,
			cfg.Webhooks.DispatchTimeout(), cfg.Webhooks.DispatchRetries, log.With("component", "org_webhooks")),
		Locks:   bootstrap.Locks(rdb, db),
		Metrics: m,
		Logger:  log,
	}, cfg.Scheduler.PollInterval(), cfg.Scheduler.LockTTL())

	recovery := worker.NewQueueRecoveryWorker(jobs, q, reaper,
		cfg.Scheduler.RecoveryInterval(), cfg.Worker.MaxAttempts, log.With("component", "recovery"), m)

	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	delivery.Start()
	defer delivery.Stop()

	cleanup := worker.NewDataCleanupWorker(db, nil, worker.DefaultCleanupInterval, log)

	loopsCtx, cancelLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		recovery.Start(loopsCtx)
	}()
	go func() {
		defer loops.Done()
		cleanup.Start(loopsCtx)
	}()
	defer func() {
		cancelLoops()
		loops.Wait()
	}()

	log.Info("worker running",
		"worker_id", cfg.Worker.ID, "queue", cfg.Queue.Backend,
		"rate_limits", cfg.RateLimits.Backend, "concurrency", cfg.Worker.Concurrency)

	return serveOps(ctx, cfg.Worker.MetricsAddr, metricsHandler,
		api.NewHealthChecker(db, rdb, nil, ""), log)
}

// buildSenders registers a provider per channel. SES is always on; WhatsApp
// only when configured.
func buildSenders(ctx context.Context, cfg *config.Config, log *logger.Logger) (*worker.ProviderRouter, error) {
	router := worker.NewProviderRouter()

	awsCfg, err := bootstrap.AWSConfig(ctx, cfg, cfg.SES.Region)
	if err != nil {
		return nil, err
	}
	ses := worker.NewSESSenderFromConfig(awsCfg, cfg.SES.ConfigurationSet, log.With("provider", "ses"))
	ses.SetDefaultFrom(cfg.SES.FromAddress, cfg.SES.FromName)
	router.Register(domain.ChannelEmail, ses)

	if cfg.WhatsApp.Enabled() {
		// The delivery worker owns retries; the client must not resend on its own.
		client := &http.Client{Timeout: cfg.Worker.ProviderTimeout()}
		router.Register(domain.ChannelWhatsApp, worker.NewWhatsAppSender(client,
			cfg.WhatsApp.BaseURL, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken, log.With("provider", "whatsapp")))
	}
	return router, nil
}

// serveOps exposes metrics and health until ctx is done.
func serveOps(ctx context.Context, addr string, metricsHandler http.Handler, health *api.HealthChecker, log *logger.Logger) error {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)

	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("ops endpoint listening", "addr", addr)
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
	log.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
