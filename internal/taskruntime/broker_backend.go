package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var brokerBackendTracer = otel.Tracer("taskruntime.broker")

// cancellationPollInterval bounds how quickly a cross-process Cancel call
// is observed by the worker actually running the task (§4.5, §4.2
// ProgressTracker.IsCancelled).
const cancellationPollInterval = 2 * time.Second

// BrokerBackend is the C5 distributed task runtime (§4.5): Enqueue persists
// a Task row and publishes onto domain.TopicTaskDispatch; a pool of broker
// consumers dequeue, run the handler, and apply the terminal transition.
// Cross-process cancellation is carried by the ProgressTracker's cancelled
// flag rather than an in-process cancel map, since the consumer goroutine
// handling a task may live in a different worker process than the caller
// of Cancel.
type BrokerBackend struct {
	repo        domain.TaskRepository
	broker      domain.Broker
	tracker     domain.ProgressTracker
	factory     domain.TaskHandlerFactory
	concurrency int
}

// NewBrokerBackend constructs a BrokerBackend. concurrency is the number of
// parallel long-poll consumers for the dispatch topic (default 1).
func NewBrokerBackend(repo domain.TaskRepository, broker domain.Broker, tracker domain.ProgressTracker, factory domain.TaskHandlerFactory, concurrency int) *BrokerBackend {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BrokerBackend{repo: repo, broker: broker, tracker: tracker, factory: factory, concurrency: concurrency}
}

// Start registers the dispatch-topic consumer and starts the broker. It
// must be called once, before the broker backend can process enqueued
// tasks.
func (b *BrokerBackend) Start(ctx domain.Context) error {
	b.broker.Subscribe(domain.TopicTaskDispatch, b.concurrency, b.handleMessage)
	if err := b.broker.Start(ctx); err != nil {
		return fmt.Errorf("op=Start: %w", err)
	}
	return nil
}

func (b *BrokerBackend) Enqueue(ctx domain.Context, taskType domain.TaskType, payload map[string]any, userID int64, metadata map[string]any) (int64, error) {
	ctx, span := brokerBackendTracer.Start(ctx, "BrokerBackend.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("task.type", string(taskType)))

	task, err := b.repo.CreateTask(ctx, taskType, userID, mergeTaskData(metadata, payload))
	if err != nil {
		return 0, fmt.Errorf("op=Enqueue: %w", err)
	}

	envelope := map[string]any{
		"task_id":  task.ID,
		"user_id":  userID,
		"type":     string(taskType),
		"payload":  payload,
		"metadata": metadata,
	}
	if err := b.broker.Publish(ctx, domain.TopicTaskDispatch, envelope); err != nil {
		return 0, fmt.Errorf("op=Enqueue: %w", err)
	}
	return task.ID, nil
}

func (b *BrokerBackend) handleMessage(ctx context.Context, msg domain.Message) error {
	taskID, ok := asInt64(msg.Payload["task_id"])
	if !ok {
		slog.ErrorContext(ctx, "dispatch message missing task_id", slog.String("message_id", msg.ID))
		return nil
	}
	userID, _ := asInt64(msg.Payload["user_id"])
	taskTypeStr, _ := msg.Payload["type"].(string)
	payload, _ := msg.Payload["payload"].(map[string]any)
	metadata, _ := msg.Payload["metadata"].(map[string]any)

	ctx, span := brokerBackendTracer.Start(ctx, "BrokerBackend.handleMessage")
	defer span.End()
	span.SetAttributes(attribute.Int64("task.id", taskID), attribute.String("task.type", taskTypeStr))

	if cancelled, err := b.tracker.IsCancelled(ctx, taskID); err == nil && cancelled {
		_, _ = b.repo.CancelTask(ctx, taskID)
		return nil
	}

	if err := b.repo.StartTask(ctx, taskID); err != nil {
		slog.InfoContext(ctx, "task not started, already left pending state",
			slog.Int64("task_id", taskID), slog.Any("error", err))
		return nil
	}

	handler, ok := b.factory.Handler(domain.TaskType(taskTypeStr))
	if !ok {
		msgText := fmt.Sprintf("no handler registered for task type %q", taskTypeStr)
		if err := b.repo.FailTask(ctx, taskID, msgText); err != nil {
			slog.ErrorContext(ctx, "failed to record missing-handler failure", slog.Any("error", err))
		}
		return nil
	}

	taskCtx := ctx
	if max, ok := asInt64(metadata["max_runtime_seconds"]); ok && max > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(max)*time.Second)
		defer cancel()
	}
	taskCtx, stopWatcher := b.watchCancellation(taskCtx, taskID)
	defer stopWatcher()

	wc := domain.WorkerContext{
		TaskID: taskID,
		UserID: userID,
		UpdateProgress: func(progress float64, meta map[string]any) {
			if err := b.repo.UpdateProgress(ctx, taskID, progress, meta); err != nil {
				slog.ErrorContext(ctx, "failed to record task progress", slog.Int64("task_id", taskID), slog.Any("error", err))
			}
		},
		EnqueueSubtask: b.Enqueue,
	}

	err := handler(taskCtx, payload, wc)
	b.finish(ctx, taskCtx, taskID, err)
	return nil
}

// watchCancellation returns a derived context that is cancelled as soon as
// the ProgressTracker's cancellation flag is observed for taskID, and a
// stop function to release the polling goroutine once the handler returns.
func (b *BrokerBackend) watchCancellation(parent context.Context, taskID int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancellationPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cancelled, err := b.tracker.IsCancelled(ctx, taskID); err == nil && cancelled {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, func() {
		close(done)
		cancel()
	}
}

func (b *BrokerBackend) finish(ctx, taskCtx context.Context, taskID int64, err error) {
	switch {
	case err == nil:
		if cerr := b.repo.CompleteTask(ctx, taskID); cerr != nil {
			slog.ErrorContext(ctx, "failed to complete task", slog.Int64("task_id", taskID), slog.Any("error", cerr))
		}
	case errors.Is(err, domain.ErrDeferredCompletion):
		// Handoff succeeded; an async collaborator owns the terminal
		// transition from here (§4.8 distributed scan pipeline).
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		if ferr := b.repo.FailTask(ctx, taskID, "exceeded max_runtime_seconds"); ferr != nil {
			slog.ErrorContext(ctx, "failed to fail task on timeout", slog.Int64("task_id", taskID), slog.Any("error", ferr))
		}
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

// Cancel flags the task cancelled for any consumer watching it and flips
// the DB row; it is the only cross-process path available for the broker
// backend (§4.5).
func (b *BrokerBackend) Cancel(ctx domain.Context, taskID int64) (bool, error) {
	if err := b.tracker.SetCancelled(ctx, taskID); err != nil {
		slog.ErrorContext(ctx, "failed to set cancellation flag", slog.Int64("task_id", taskID), slog.Any("error", err))
	}
	changed, err := b.repo.CancelTask(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("op=Cancel: %w", err)
	}
	return changed, nil
}

func (b *BrokerBackend) GetStatus(ctx domain.Context, taskID int64) (domain.TaskStatus, error) {
	t, err := b.repo.Get(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("op=GetStatus: %w", err)
	}
	return t.Status, nil
}

func (b *BrokerBackend) GetProgress(ctx domain.Context, taskID int64) (float64, error) {
	t, err := b.repo.Get(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("op=GetProgress: %w", err)
	}
	return t.Progress, nil
}

func (b *BrokerBackend) Shutdown(ctx domain.Context) error {
	if err := b.broker.Stop(ctx); err != nil {
		return fmt.Errorf("op=Shutdown: %w", err)
	}
	return nil
}

// asInt64 converts the JSON-decoded numeric or integer forms a map[string]any
// value may take after a marshal/unmarshal round trip through the broker.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
