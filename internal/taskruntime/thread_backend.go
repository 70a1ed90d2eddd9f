package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var threadTracer = otel.Tracer("taskruntime.thread")

// threadQueueCapacity bounds the in-process FIFO channel; the worker POOL
// size (not the queue) is what callers configure via maxWorkers (§4.5).
const threadQueueCapacity = 4096

type queueItem struct {
	taskID   int64
	taskType domain.TaskType
	payload  map[string]any
	userID   int64
}

// ThreadBackend is the C5 in-process thread runtime (§4.5): a bounded
// worker pool draining a FIFO queue, one goroutine's worth of lifecycle
// (dequeue -> StartTask -> handler -> terminal transition) per item. This
// supersedes the original's two competing thread-runner implementations
// (§9 open question a) — a single worker is just maxWorkers=1.
type ThreadBackend struct {
	repo       domain.TaskRepository
	factory    domain.TaskHandlerFactory
	maxWorkers int

	queue   chan queueItem
	stopped atomic.Bool

	mu      sync.Mutex
	running map[int64]context.CancelFunc

	wg sync.WaitGroup
}

// NewThreadBackend constructs a ThreadBackend with maxWorkers goroutines
// draining the queue (default 8 per §4.5 if maxWorkers <= 0).
func NewThreadBackend(repo domain.TaskRepository, factory domain.TaskHandlerFactory, maxWorkers int) *ThreadBackend {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &ThreadBackend{
		repo:       repo,
		factory:    factory,
		maxWorkers: maxWorkers,
		queue:      make(chan queueItem, threadQueueCapacity),
		running:    make(map[int64]context.CancelFunc),
	}
}

// Start spawns the worker pool. It must be called once; tasks enqueued
// before Start wait in the queue until a worker picks them up.
func (b *ThreadBackend) Start(ctx context.Context) {
	for i := 0; i < b.maxWorkers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
}

func (b *ThreadBackend) worker(ctx context.Context) {
	defer b.wg.Done()
	for item := range b.queue {
		b.runOne(ctx, item)
	}
}

func (b *ThreadBackend) Enqueue(ctx domain.Context, taskType domain.TaskType, payload map[string]any, userID int64, metadata map[string]any) (int64, error) {
	ctx, span := threadTracer.Start(ctx, "ThreadBackend.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("task.type", string(taskType)))

	if b.stopped.Load() {
		return 0, fmt.Errorf("op=Enqueue: %w: thread runtime is shut down", domain.ErrConfiguration)
	}

	task, err := b.repo.CreateTask(ctx, taskType, userID, mergeTaskData(metadata, payload))
	if err != nil {
		return 0, fmt.Errorf("op=Enqueue: %w", err)
	}

	item := queueItem{taskID: task.ID, taskType: taskType, payload: payload, userID: userID}
	select {
	case b.queue <- item:
	default:
		// Queue is saturated; block until a worker frees a slot rather than
		// silently drop the task the DB row already promised.
		b.queue <- item
	}
	return task.ID, nil
}

func mergeTaskData(metadata, payload map[string]any) map[string]any {
	data := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		data[k] = v
	}
	data["payload"] = payload
	return data
}

func (b *ThreadBackend) runOne(ctx context.Context, item queueItem) {
	taskCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.running[item.taskID] = cancel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.running, item.taskID)
		b.mu.Unlock()
		cancel()
	}()

	taskCtx, span := threadTracer.Start(taskCtx, "ThreadBackend.runOne")
	defer span.End()
	span.SetAttributes(attribute.Int64("task.id", item.taskID), attribute.String("task.type", string(item.taskType)))

	if err := b.repo.StartTask(taskCtx, item.taskID); err != nil {
		// Already cancelled/terminal before the worker reached it (§8
		// "enqueue then immediately cancel" scenario) — handler never runs.
		slog.InfoContext(taskCtx, "task not started, already left pending state",
			slog.Int64("task_id", item.taskID), slog.Any("error", err))
		return
	}

	handler, ok := b.factory.Handler(item.taskType)
	if !ok {
		msg := fmt.Sprintf("no handler registered for task type %q", item.taskType)
		if err := b.repo.FailTask(taskCtx, item.taskID, msg); err != nil {
			slog.ErrorContext(taskCtx, "failed to record missing-handler failure", slog.Any("error", err))
		}
		return
	}

	wc := domain.WorkerContext{
		TaskID: item.taskID,
		UserID: item.userID,
		UpdateProgress: func(progress float64, meta map[string]any) {
			if err := b.repo.UpdateProgress(ctx, item.taskID, progress, meta); err != nil {
				slog.ErrorContext(ctx, "failed to record task progress", slog.Int64("task_id", item.taskID), slog.Any("error", err))
			}
		},
		EnqueueSubtask: b.Enqueue,
	}

	err := handler(taskCtx, item.payload, wc)
	b.finish(ctx, taskCtx, item.taskID, err)
}

func (b *ThreadBackend) finish(ctx, taskCtx context.Context, taskID int64, err error) {
	switch {
	case err == nil:
		if cerr := b.repo.CompleteTask(ctx, taskID); cerr != nil {
			slog.ErrorContext(ctx, "failed to complete task", slog.Int64("task_id", taskID), slog.Any("error", cerr))
		}
	case errors.Is(err, domain.ErrDeferredCompletion):
		// Handoff succeeded; an async collaborator owns the terminal
		// transition from here (§4.8 distributed scan pipeline).
	case errors.Is(err, domain.ErrCancelled) || taskCtx.Err() != nil:
		if _, cerr := b.repo.CancelTask(ctx, taskID); cerr != nil {
			slog.ErrorContext(ctx, "failed to cancel task", slog.Int64("task_id", taskID), slog.Any("error", cerr))
		}
	default:
		if ferr := b.repo.FailTask(ctx, taskID, err.Error()); ferr != nil {
			slog.ErrorContext(ctx, "failed to fail task", slog.Int64("task_id", taskID), slog.Any("error", ferr))
		}
	}
}

// Cancel flips the running instance's context (if any) and the DB row.
// The running map is held only briefly — never across DB/network I/O
// (§5 "shared-resource policy").
func (b *ThreadBackend) Cancel(ctx domain.Context, taskID int64) (bool, error) {
	b.mu.Lock()
	cancel, running := b.running[taskID]
	b.mu.Unlock()
	if running {
		cancel()
	}
	changed, err := b.repo.CancelTask(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("op=Cancel: %w", err)
	}
	return changed, nil
}

func (b *ThreadBackend) GetStatus(ctx domain.Context, taskID int64) (domain.TaskStatus, error) {
	t, err := b.repo.Get(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("op=GetStatus: %w", err)
	}
	return t.Status, nil
}

func (b *ThreadBackend) GetProgress(ctx domain.Context, taskID int64) (float64, error) {
	t, err := b.repo.Get(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("op=GetProgress: %w", err)
	}
	return t.Progress, nil
}

// Shutdown stops accepting new tasks, closes the queue, and waits for the
// worker pool to drain up to ctx's deadline, logging (not panicking) if
// workers miss it (§4.5).
func (b *ThreadBackend) Shutdown(ctx domain.Context) error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(b.queue)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("thread backend shutdown deadline exceeded, workers still draining")
		return ctx.Err()
	case <-time.After(30 * time.Second):
		slog.Warn("thread backend shutdown timed out after 30s, workers still draining")
		return nil
	}
}
