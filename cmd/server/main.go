// Command server runs the admin/operability HTTP surface (liveness,
// readiness, Prometheus metrics — book-upload/API business endpoints are a
// named Non-goal, §1) plus the two collaborators that only ever enqueue
// tasks rather than execute them: the cron-driven scheduler (§4.6) and the
// filesystem watcher (§4.10/§6 ingest_discovery). Actual task and scan-
// pipeline execution happens in the separate cmd/worker process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/broker"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/httpserver"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/bookcard-runtime/internal/config"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/scheduler"
	"github.com/fairyhunter13/bookcard-runtime/internal/taskruntime"
	"github.com/fairyhunter13/bookcard-runtime/internal/watcher"
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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
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
	scheduledJobRepo := postgres.NewScheduledJobRepo(pool)
	userRepo := postgres.NewUserRepo(pool)

	msgBroker := broker.NewRedisBroker(rdb, cfg.BrokerPollTimeout, cfg.BrokerReconnectDelay)
	tracker := broker.NewRedisProgressTracker(rdb, cfg.ProgressCounterTTL)

	// This process only enqueues tasks: it never calls BrokerBackend.Start,
	// so the dispatch-topic consumer and the broker's own Start loop are
	// left to cmd/worker (§4.5 "running task instances" live in the worker
	// process, not here).
	handlers := taskruntime.NewHandlerRegistry()
	handlers.Register(domain.TaskTypeLibraryScan, taskruntime.NewDistributedLibraryScanHandler(msgBroker))
	handlers.RegisterStubHandlers()
	runtime := taskruntime.NewBrokerBackend(taskRepo, msgBroker, tracker, handlers, cfg.BrokerDispatchConcurrency)

	// Scheduler (§4.6): cron-driven, coalescing, one-in-flight-per-job.
	sched := scheduler.NewService(scheduledJobRepo, runtime, userRepo, cfg.SchedulerExecutorPoolSize)
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", slog.Any("error", err))
	}
	defer sched.Shutdown(true)

	// Filesystem watcher (§5, §6 ingest_discovery): only runs when a watch
	// directory is configured for this deployment.
	var watchSvc *watcher.Service
	if cfg.IngestWatchDir != "" {
		watchSvc = watcher.NewService(cfg.IngestWatchDir, runtime, userRepo, cfg.WatcherDebounce, cfg.WatchFilesForcePolling)
		if err := watchSvc.Start(ctx); err != nil {
			slog.Error("watcher start failed", slog.Any("error", err), slog.String("dir", cfg.IngestWatchDir))
		} else {
			defer watchSvc.Stop()
		}
	}

	dbCheck := func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}

	router := httpserver.NewRouter(
		httpserver.ReadinessCheck{Name: "database", Func: dbCheck},
		httpserver.ReadinessCheck{Name: "broker", Func: redisCheck},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
