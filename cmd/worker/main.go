// Command worker runs the distributed task and scan-pipeline backends: the
// broker backend's dispatch-topic consumer (§4.5) plus the seven scan
// workers (§4.8), all sharing one Redis-backed broker and progress
// tracker. It is meant to run as its own process/container, separate from
// cmd/server, matching the teacher's own split between an HTTP server and
// a standalone worker binary.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/broker"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/calibre"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/datasource"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/bookcard-runtime/internal/config"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
	"github.com/fairyhunter13/bookcard-runtime/internal/scanworkers"
	"github.com/fairyhunter13/bookcard-runtime/internal/service/ratelimiter"
	"github.com/fairyhunter13/bookcard-runtime/internal/taskruntime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	taskRepo := postgres.NewTaskRepo(pool)
	libraryRepo := postgres.NewLibraryRepo(pool)
	graphRepo := postgres.NewAuthorGraphRepo(pool)

	msgBroker := broker.NewRedisBroker(rdb, cfg.BrokerPollTimeout, cfg.BrokerReconnectDelay)
	tracker := broker.NewRedisProgressTracker(rdb, cfg.ProgressCounterTTL)

	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		datasource.HardcoverSourceName: ratelimiter.NewBucketConfigFromPerMinute(120),
	})
	sources := datasource.NewDefaultRegistry(cfg, limiter)
	orchestrator := matching.NewOrchestrator(cfg.MinMatchConfidence, cfg.FuzzyMinSimilarity)
	catalog := calibre.NewCatalog()

	// Distributed task runtime (§4.5): the handler registry only needs the
	// library_scan type resolved to the distributed hand-off, since every
	// other task type's execution lives outside this runtime's scope (§1
	// Non-goals) and is served by a lifecycle-only stub.
	handlers := taskruntime.NewHandlerRegistry()
	handlers.Register(domain.TaskTypeLibraryScan, taskruntime.NewDistributedLibraryScanHandler(msgBroker))
	handlers.RegisterStubHandlers()

	runtimeBackend := taskruntime.NewBrokerBackend(taskRepo, msgBroker, tracker, handlers, cfg.BrokerDispatchConcurrency)

	// Scan workers (§4.8): subscribe all seven stages onto the shared broker
	// before starting it, so no message published during startup is lost.
	scanworkers.RegisterAll(scanworkers.Dependencies{
		Libraries:                    libraryRepo,
		Catalog:                      catalog,
		Sources:                      sources,
		Orchestrator:                 orchestrator,
		Graph:                        graphRepo,
		Tasks:                        taskRepo,
		Broker:                       msgBroker,
		Tracker:                      tracker,
		DuplicateSimilarityThreshold: cfg.DuplicateSimilarityThreshold,
		Concurrency:                  cfg.ScanWorkerConcurrency,
	})

	if err := runtimeBackend.Start(ctx); err != nil {
		slog.Error("task runtime backend start failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Stuck-task sweeper: safety net for max_runtime_seconds enforcement
	// when a worker process crashes mid-task (§5).
	sweeper := taskruntime.NewStuckTaskSweeper(taskRepo, cfg.StuckTaskMaxAge, cfg.StuckTaskSweepInterval)
	go sweeper.Run(ctx)

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := runtimeBackend.Shutdown(shutdownCtx); err != nil {
		slog.Error("runtime shutdown error", slog.Any("error", err))
	}
	slog.Info("worker stopped")
}
