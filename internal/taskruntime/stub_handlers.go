package taskruntime

import (
	"log/slog"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// StubHandler returns a domain.TaskHandler that reports full progress and
// completes immediately, representing a task type whose actual execution
// is an external collaborator out of this runtime's scope (§1 Non-goals).
// It still observes cooperative cancellation before doing even this much
// bookkeeping, so a task cancelled between dequeue and execution never
// silently "completes".
func StubHandler(taskType domain.TaskType) domain.TaskHandler {
	return func(ctx domain.Context, payload map[string]any, wc domain.WorkerContext) error {
		select {
		case <-ctx.Done():
			return domain.ErrCancelled
		default:
		}
		slog.InfoContext(ctx, "delegating task to external collaborator",
			slog.String("task_type", string(taskType)), slog.Int64("task_id", wc.TaskID))
		wc.UpdateProgress(1.0, nil)
		return nil
	}
}
