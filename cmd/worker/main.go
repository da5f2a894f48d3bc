package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SocialGouv/pass-emploi-api-sub007/common/id"
	"github.com/SocialGouv/pass-emploi-api-sub007/common/logger"
	"github.com/SocialGouv/pass-emploi-api-sub007/common/otel"
	"github.com/SocialGouv/pass-emploi-api-sub007/core/config"
	"github.com/SocialGouv/pass-emploi-api-sub007/core/db"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/jobs"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/notify"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/partner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/queue"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/report"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/scheduler"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "jobs worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", cfg.Queue.Consumer)

	if cfg.OTel.Enabled() {
		telemetry, err := otel.Setup(ctx, cfg.OTel)
		if err != nil {
			slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				slog.WarnContext(ctx, "telemetry shutdown error", "error", err)
			}
		}()
	}

	if err := id.Init(cfg.Worker.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		Consumer:     cfg.Queue.Consumer,
		DLQStream:    cfg.Queue.DLQStream,
		BatchSize:    int64(cfg.Worker.ClaimBatch),
		Block:        cfg.Worker.PollInterval,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}
	producer := queue.NewRedisProducer(redisClient, cfg.Queue.Stream, slog.Default())
	defer producer.Close()

	jobStore := store.NewScheduledJobStore(database.Pool())
	reportStore := store.NewReportStore(database.Pool())
	beneficiaryStore := store.NewBeneficiaryStore(database.Pool())
	inflight := store.NewInFlightTracker(redisClient)
	sched := scheduler.New(jobStore, producer)

	var alerter notify.Alerter
	if cfg.Ops.WebhookURL != "" {
		alerter = notify.NewWebhookAlerter(cfg.Ops.WebhookURL)
	} else {
		alerter = notify.NewLogAlerter()
	}
	var push notify.PushSender
	if cfg.Push.URL != "" {
		push = notify.NewHTTPPushSender(cfg.Push.URL, cfg.Push.APIKey)
	} else {
		push = notify.NewLogPushSender()
	}
	sink := report.NewSink(reportStore, alerter)

	if !cfg.Partner.Enabled() {
		slog.ErrorContext(ctx, "PARTNER_API_URL and PARTNER_API_KEY are required")
		os.Exit(1)
	}
	feed := partner.NewHTTPClient(cfg.Partner.BaseURL, cfg.Partner.APIKey)
	applier := partner.NewEventApplier(database.Pool(), beneficiaryStore, push)

	if !cfg.Analytics.Enabled() {
		slog.ErrorContext(ctx, "ANALYTICS_DATABASE_URL is required")
		os.Exit(1)
	}
	warehousePool, err := db.NewPool(ctx, db.Config{DSN: cfg.Analytics.TargetDSN})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to analytics warehouse", "error", err)
		os.Exit(1)
	}
	defer warehousePool.Close()
	analyticsStore := store.NewAnalyticsStore(database.Pool(), warehousePool)

	registry, err := runner.NewRegistry(
		jobs.NewNotifyBeneficiariesHandler(beneficiaryStore, push, sched,
			cfg.Push.RatePerSecond, cfg.Jobs.NotifyPageSize, cfg.Jobs.NotifyBatchDelay),
		jobs.NewSyncPartnerEventsHandler(feed, sched, inflight, cfg.Jobs.SyncMaxBatches),
		jobs.NewProcessPartnerEventHandler(applier),
		jobs.NewCleanupHandler(jobStore, reportStore, cfg.Jobs.CleanupRetention, cfg.Jobs.ReportRetention),
		jobs.NewReportRollupHandler(reportStore, sink, cfg.Jobs.RollupWindow),
		jobs.NewAnalyticsDumpHandler(analyticsStore, sched),
		jobs.NewAnalyticsLoadHandler(analyticsStore, sched, int64(cfg.Analytics.BatchSize)),
		jobs.NewAnalyticsEnrichHandler(analyticsStore, sched),
		jobs.NewAnalyticsViewsHandler(analyticsStore),
	)
	if err != nil {
		slog.ErrorContext(ctx, "invalid handler registry", "error", err)
		os.Exit(1)
	}

	executor := runner.New(registry, sink, runner.NewLogMonitor())

	w := worker.New(consumer, jobStore, executor, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		ClaimBatch:  cfg.Worker.ClaimBatch,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  cfg.Queue.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick)
	reclaimer.Stop()

	// Stop worker (may be processing)
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
     ██╗ ██████╗ ██████╗ ███████╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
     ██║██╔═══██╗██╔══██╗██╔════╝    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
     ██║██║   ██║██████╔╝███████╗    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██   ██║██║   ██║██╔══██╗╚════██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
╚█████╔╝╚██████╔╝██████╔╝███████║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
 ╚════╝  ╚═════╝ ╚═════╝ ╚══════╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
