package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/campaignforge/bulkmailer/internal/config"
	"github.com/campaignforge/bulkmailer/internal/infra/postgresql"
	"github.com/campaignforge/bulkmailer/internal/infra/postgresql/migrations"
	infraredis "github.com/campaignforge/bulkmailer/internal/infra/redis"
	"github.com/campaignforge/bulkmailer/internal/message"
	"github.com/campaignforge/bulkmailer/internal/observability"
	"github.com/campaignforge/bulkmailer/internal/ratelimit"
	"github.com/campaignforge/bulkmailer/internal/repository"
	"github.com/campaignforge/bulkmailer/internal/service"
	"github.com/campaignforge/bulkmailer/internal/smtptransport"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("timezone resolution failed", zap.Error(err))
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	jobRepo := repository.NewGormJobRepo(db)
	jobRepo.SetClaimRaceHook(metrics.IncClaimRace)
	accountRepo := repository.NewGormAccountRepo(db)
	campaignRepo := repository.NewGormCampaignRepo(db)
	uow := repository.NewGormUnitOfWork(db)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	warmup := ratelimit.NewStagedWarmup(accountRepo, loc)

	builder := message.NewBuilder(logger,
		message.WithUnsubscribeBase(cfg.UnsubscribeBaseURL),
		message.WithTrackingBase(cfg.TrackingBaseURL),
		message.WithLocation(loc),
	)

	sender := smtptransport.NewSender(logger,
		smtptransport.WithArchiver(smtptransport.NewIMAPArchiver(logger)),
		smtptransport.WithHelloName(cfg.SMTPHelloName),
	)

	recorder := service.NewRecorder(uow, logger, loc)

	dispatcher := service.NewDispatcher(
		jobRepo,
		rateLimiter,
		warmup,
		builder,
		sender,
		recorder,
		logger,
		service.WithSendInterval(cfg.SendInterval()),
		service.WithMetrics(metrics),
		service.WithCampaignStarter(campaignRepo),
	)

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx, cfg.WorkerCount)
	logger.Info("bulkmailer started",
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("sendInterval", cfg.SendInterval()),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("bulkmailer stopped")
}

func metricsMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
