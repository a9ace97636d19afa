package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomviz/render-engine/config"
	"github.com/roomviz/render-engine/internal/cache"
	kafkactrl "github.com/roomviz/render-engine/internal/controller/kafka"
	"github.com/roomviz/render-engine/internal/controller/restapi"
	outboxworker "github.com/roomviz/render-engine/internal/controller/worker/outbox"
	prepworker "github.com/roomviz/render-engine/internal/controller/worker/prep"
	"github.com/roomviz/render-engine/internal/infrastructure/fetcher"
	"github.com/roomviz/render-engine/internal/infrastructure/genai"
	infrakafka "github.com/roomviz/render-engine/internal/infrastructure/kafka"
	"github.com/roomviz/render-engine/internal/infrastructure/normalizer"
	"github.com/roomviz/render-engine/internal/repo/persistent"
	"github.com/roomviz/render-engine/internal/usecase"
	outboxuc "github.com/roomviz/render-engine/internal/usecase/outbox"
	"github.com/roomviz/render-engine/internal/usecase/preparation"
	renderuc "github.com/roomviz/render-engine/internal/usecase/render"
	"github.com/roomviz/render-engine/internal/usecase/status"
	"github.com/roomviz/render-engine/pkg/httpserver"
	"github.com/roomviz/render-engine/pkg/kafka/consumer"
	"github.com/roomviz/render-engine/pkg/kafka/producer"
	"github.com/roomviz/render-engine/pkg/logger"
	"github.com/roomviz/render-engine/pkg/postgres"
	"github.com/roomviz/render-engine/pkg/s3client"
)

func Run(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Logger
	l := logger.New(cfg.Log.Level)

	// Infrastructure

	// s3
	s3Ctx, s3Cancel := context.WithTimeout(ctx, cfg.S3.CfgLoadTimeout)
	defer s3Cancel()
	s3c, err := s3client.New(s3Ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - s3client.New: %w", err))
	}

	// postgres
	pg, err := postgres.New(cfg.PG.URL, postgres.MaxPoolSize(cfg.PG.PoolMax))
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - postgres.New: %w", err))
	}
	defer pg.Close()

	// redis
	redisCache, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - cache.NewRedisCache: %w", err))
	}
	defer redisCache.Close()

	// gemini
	generator, err := genai.New(ctx, cfg.GenAI.APIKey, cfg.GenAI.Model,
		genai.RemovalTimeout(cfg.GenAI.RemovalTimeout),
		genai.CompositeTimeout(cfg.GenAI.CompositeTimeout),
	)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - genai.New: %w", err))
	}
	defer generator.Close()

	// Repository
	objectStore := persistent.NewObjectStoreRepo(s3c, cfg.S3.Bucket)
	assetRepo := persistent.NewAssetRepo(pg)
	sessionRepo := persistent.NewRoomSessionRepo(pg)
	jobRepo := persistent.NewRenderJobRepo(pg)
	quotaRepo := persistent.NewQuotaRepo(pg)
	outboxRepo := persistent.NewOutboxRepo(pg)

	limits := usecase.QuotaLimits{
		Render:  cfg.Quota.RenderLimit,
		Prep:    cfg.Quota.PrepLimit,
		Cleanup: cfg.Quota.CleanupLimit,
	}

	// Use-Case

	prepUseCase := preparation.New(
		assetRepo,
		outboxRepo,
		quotaRepo,
		pg,
		objectStore,
		fetcher.New(cfg.Fetcher.Timeout, cfg.Fetcher.MaxBytes),
		normalizer.New(),
		generator,
		redisCache,
		l,
		limits,
		cfg.PrepWorker.MaxAttempts,
		cfg.PrepWorker.ClaimLease,
		cfg.S3.SignedURLTTL,
	)

	renderUseCase := renderuc.New(
		sessionRepo,
		jobRepo,
		assetRepo,
		quotaRepo,
		outboxRepo,
		pg,
		objectStore,
		generator,
		l,
		limits,
		cfg.S3.SignedURLTTL,
	)

	statusUseCase := status.New(jobRepo, assetRepo, quotaRepo, objectStore, redisCache, l, limits, cfg.S3.SignedURLTTL)

	outboxUseCase := outboxuc.New(outboxRepo, l)

	// Kafka Producer
	kafkaProducer, err := producer.New(ctx, cfg.Kafka.Brokers)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - producer.New: %w", err))
	}

	// Outbox Relay Worker
	outboxRelayWorker := outboxworker.New(
		outboxUseCase,
		infrakafka.NewEventProducer(kafkaProducer, cfg.Kafka.JobsTopic, cfg.Kafka.EventsTopic),
		l,
		cfg.OutboxRelay.PollInterval,
		cfg.OutboxRelay.CleanupInterval,
		cfg.OutboxRelay.MarkFailedInterval,
		cfg.OutboxRelay.ProcessBatchTimeout,
		cfg.OutboxRelay.BatchSize,
		cfg.OutboxRelay.MaxRetries,
	)

	// Prep Worker
	prepWorker := prepworker.New(
		prepUseCase,
		l,
		cfg.PrepWorker.PollInterval,
		cfg.PrepWorker.ProcessBatchTimeout,
		cfg.PrepWorker.BatchSize,
	)

	// Kafka Consumer
	kafkaConsumer, err := consumer.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.JobsTopic)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - consumer.New: %w", err))
	}

	// Kafka as Controller
	renderController := kafkactrl.New(
		renderUseCase,
		infrakafka.NewJobConsumer(kafkaConsumer),
		l,
		cfg.RenderController.CommitTimeout,
		cfg.RenderController.ProcessTimeout,
		cfg.RenderController.Workers,
	)

	// HTTP Server
	httpServer := httpserver.New(l, httpserver.Port(cfg.HTTP.Port), httpserver.Prefork(cfg.HTTP.UsePreforkMode))
	restapi.NewRouter(httpServer.App, cfg, prepUseCase, renderUseCase, statusUseCase, l)

	// Start Components
	err = outboxRelayWorker.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - outboxRelayWorker.Start: %w", err))
	}
	err = prepWorker.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - prepWorker.Start: %w", err))
	}
	err = renderController.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - renderController.Start: %w", err))
	}
	httpServer.Start()

	// Waiting Signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-interrupt:
		l.Info("app - Run - signal: %s", s.String())
	case err = <-httpServer.Notify():
		l.Error(fmt.Errorf("app - Run - httpServer.Notify: %w", err))
	}

	// Shutdown
	err = httpServer.Shutdown()
	if err != nil {
		l.Error(fmt.Errorf("app - Run - httpServer.Shutdown: %w", err))
	}

	pwShutdownCtx, pwShutdownCancel := context.WithTimeout(ctx, cfg.PrepWorker.ShutdownTimeout)
	defer pwShutdownCancel()
	err = prepWorker.Shutdown(pwShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - prepWorker.Shutdown: %w", err))
	}

	orlShutdownCtx, orlShutdownCancel := context.WithTimeout(ctx, cfg.OutboxRelay.ShutdownTimeout)
	defer orlShutdownCancel()
	err = outboxRelayWorker.Shutdown(orlShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - outboxRelayWorker.Shutdown: %w", err))
	}

	rcShutdownCtx, rcShutdownCancel := context.WithTimeout(ctx, cfg.RenderController.ShutdownTimeout)
	defer rcShutdownCancel()
	err = renderController.Shutdown(rcShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - renderController.Shutdown: %w", err))
	}
}
