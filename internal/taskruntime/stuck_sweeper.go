package taskruntime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// StuckTaskSweeper periodically fails RUNNING tasks that have exceeded
// maxRunningAge without reaching a terminal state, adapted from the
// original's stuck-job sweeper (same ticker-plus-paginated-scan shape) onto
// domain.TaskRepository/TaskStatus instead of a job queue's own status
// enum. Chiefly a safety net for the broker backend, whose
// max_runtime_seconds enforcement depends on a live consumer goroutine
// observing cancellation; a crashed worker leaves no such goroutine.
type StuckTaskSweeper struct {
	tasks        domain.TaskRepository
	maxRunningAge time.Duration
	interval      time.Duration
}

// NewStuckTaskSweeper constructs a StuckTaskSweeper. maxRunningAge and
// interval fall back to sane defaults (3m / 1m) when non-positive.
func NewStuckTaskSweeper(tasks domain.TaskRepository, maxRunningAge, interval time.Duration) *StuckTaskSweeper {
	if tasks == nil {
		return nil
	}
	if maxRunningAge <= 0 {
		maxRunningAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckTaskSweeper{tasks: tasks, maxRunningAge: maxRunningAge, interval: interval}
}

// Run blocks, sweeping once immediately and then on every tick, until ctx
// is cancelled.
func (s *StuckTaskSweeper) Run(ctx context.Context) {
	if s == nil || s.tasks == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck task sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckTaskSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("taskruntime.sweeper")
	ctx, span := tracer.Start(ctx, "StuckTaskSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxRunningAge)
	const pageSize = 100
	span.SetAttributes(
		attribute.Int("tasks.page_size", pageSize),
		attribute.Float64("tasks.max_running_age_seconds", s.maxRunningAge.Seconds()),
	)

	running := domain.TaskRunning
	filter := domain.TaskFilter{Status: &running}

	totalChecked := 0
	totalMarkedFailed := 0

	for offset := 0; ; offset += pageSize {
		pageCtx, pageSpan := tracer.Start(ctx, "StuckTaskSweeper.sweepPage")
		pageSpan.SetAttributes(attribute.Int("tasks.offset", offset))

		tasks, err := s.tasks.ListTasks(pageCtx, filter, pageSize, offset)
		if err != nil {
			pageSpan.RecordError(err)
			pageSpan.End()
			slog.Error("stuck task sweep failed to list tasks", slog.Any("error", err))
			return
		}
		totalChecked += len(tasks)
		if len(tasks) == 0 {
			pageSpan.End()
			break
		}

		for _, t := range tasks {
			if t.StartedAt != nil && t.StartedAt.Before(cutoff) {
				jobCtx, jobSpan := tracer.Start(pageCtx, "StuckTaskSweeper.markFailed")
				jobSpan.SetAttributes(
					attribute.Int64("task.id", t.ID),
					attribute.String("task.type", string(t.Type)),
				)
				msg := fmt.Sprintf("task running exceeded maximum age %v; marked failed by sweeper", s.maxRunningAge)
				if err := s.tasks.FailTask(jobCtx, t.ID, msg); err != nil {
					jobSpan.RecordError(err)
					slog.Error("stuck task sweep failed to fail task", slog.Int64("task_id", t.ID), slog.Any("error", err))
				} else {
					totalMarkedFailed++
				}
				jobSpan.End()
			}
		}

		pageSpan.End()

		if len(tasks) < pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("tasks.total_checked", totalChecked),
		attribute.Int("tasks.total_marked_failed", totalMarkedFailed),
	)
}
