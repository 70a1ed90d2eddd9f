// Package scheduler implements the C6 cron-driven job registry (§4.6): a
// refreshable set of ScheduledJobDefinition rows, each triggering a task
// enqueue on its own cron schedule, coalescing missed runs and allowing at
// most one in-flight instance per job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var schedulerTracer = otel.Tracer("scheduler")

// Service owns a *cron.Cron instance and refreshes its entries from
// domain.ScheduledJobRepository, grounded on scheduler/service.py's
// refresh-and-re-register model.
type Service struct {
	jobs     domain.ScheduledJobRepository
	runtime  domain.TaskRuntime
	resolver domain.SystemUserResolver
	sem      chan struct{}

	mu sync.Mutex
	cr *cron.Cron
}

// NewService constructs a scheduler Service. poolSize bounds the
// scheduler's own trigger pool (§5, separate from the task runtime's own
// worker pool), default 20 if non-positive.
func NewService(jobs domain.ScheduledJobRepository, runtime domain.TaskRuntime, resolver domain.SystemUserResolver, poolSize int) *Service {
	if poolSize <= 0 {
		poolSize = 20
	}
	return &Service{jobs: jobs, runtime: runtime, resolver: resolver, sem: make(chan struct{}, poolSize)}
}

// Start activates the scheduler and performs an initial RefreshJobs.
func (s *Service) Start(ctx domain.Context) error {
	if err := s.RefreshJobs(ctx); err != nil {
		return fmt.Errorf("op=Start: %w", err)
	}
	return nil
}

// RefreshJobs reads every enabled ScheduledJobDefinition, resolves the
// system user, and rebuilds the cron entry set from scratch (§4.6). If no
// jobs are enabled, every registered entry is removed. If no system user
// can be resolved, the existing entry set is left untouched rather than
// cleared, since a transient lookup failure should not silently disable
// every scheduled job.
func (s *Service) RefreshJobs(ctx domain.Context) error {
	ctx, span := schedulerTracer.Start(ctx, "Service.RefreshJobs")
	defer span.End()

	defs, err := s.jobs.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("op=RefreshJobs: %w", err)
	}
	span.SetAttributes(attribute.Int("scheduler.job_count", len(defs)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(defs) == 0 {
		s.stopLocked()
		return nil
	}

	user, err := s.resolver.ResolveSystemUser(ctx)
	if err != nil {
		slog.WarnContext(ctx, "scheduler could not resolve system user, leaving existing jobs registered", slog.Any("error", err))
		return nil
	}

	s.stopLocked()
	newCron := cron.New(cron.WithLocation(time.UTC))

	registered := 0
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		job := s.makeJob(def, user)
		entryFn := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(job)
		if _, err := newCron.AddJob(def.CronExpression, entryFn); err != nil {
			slog.ErrorContext(ctx, "invalid cron expression, skipping job",
				slog.String("job_name", def.JobName), slog.String("cron_expression", def.CronExpression), slog.Any("error", err))
			continue
		}
		registered++
	}

	newCron.Start()
	s.cr = newCron
	span.SetAttributes(attribute.Int("scheduler.registered_count", registered))
	return nil
}

// makeJob builds the cron trigger callback for one ScheduledJobDefinition:
// enqueue a Task of its task_type with merged payload/metadata (§4.6).
func (s *Service) makeJob(def domain.ScheduledJobDefinition, user domain.SystemUser) cron.Job {
	return cron.FuncJob(func() {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		default:
			slog.Warn("scheduler executor pool exhausted, running job anyway", slog.String("job_name", def.JobName))
		}

		ctx, span := schedulerTracer.Start(context.Background(), "Service.triggerJob")
		defer span.End()
		span.SetAttributes(
			attribute.String("scheduler.job_name", def.JobName),
			attribute.String("scheduler.task_type", string(def.TaskType)),
		)

		userID := user.ID
		if def.UserID != nil {
			userID = *def.UserID
		}

		metadata := map[string]any{"task_type": string(def.TaskType), "scheduled": true}
		for k, v := range def.JobMetadata {
			metadata[k] = v
		}

		taskID, err := s.runtime.Enqueue(ctx, def.TaskType, def.Arguments, userID, metadata)
		if err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "scheduled job failed to enqueue task",
				slog.String("job_name", def.JobName), slog.Any("error", err))
			return
		}
		slog.InfoContext(ctx, "scheduled job enqueued task",
			slog.String("job_name", def.JobName), slog.Int64("task_id", taskID))
	})
}

// Shutdown stops the cron scheduler. If wait is true, it blocks until any
// in-flight job triggers have returned.
func (s *Service) Shutdown(wait bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cr == nil {
		return
	}
	stopCtx := s.cr.Stop()
	if wait {
		<-stopCtx.Done()
	}
	s.cr = nil
}

func (s *Service) stopLocked() {
	if s.cr != nil {
		s.cr.Stop()
		s.cr = nil
	}
}

// cronLogger adapts slog to cron.Logger for SkipIfStillRunning's own
// logging of skipped runs.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Info(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
