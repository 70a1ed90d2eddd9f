package scanworkers

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var completionWorkerTracer = otel.Tracer("scanworkers.completion")

// CompletionWorker consumes domain.TopicCompletionJobs, marking the
// triggering task COMPLETED and clearing any residual progress-tracker
// keys for the library (§4.7 step 7, §4.8 worker table). There is no
// further output topic.
type CompletionWorker struct {
	Tasks   domain.TaskRepository
	Tracker domain.ProgressTracker
}

// Handle implements domain.Handler for domain.TopicCompletionJobs.
func (w CompletionWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := completionWorkerTracer.Start(ctx, "CompletionWorker.Handle")
	defer span.End()

	taskID, hasTaskID := asInt64(msg.Payload[fieldTaskID])
	libraryID, hasLibraryID := asInt64(msg.Payload[fieldLibraryID])

	if hasLibraryID {
		if err := w.Tracker.ClearJob(ctx, libraryID); err != nil {
			slog.WarnContext(ctx, "completion worker failed to clear progress keys", slog.Int64("library_id", libraryID), slog.Any("error", err))
		}
	}

	if !hasTaskID {
		slog.ErrorContext(ctx, "completion worker message missing task_id", slog.String("message_id", msg.ID))
		return nil
	}

	if cancelled, _ := w.Tracker.IsCancelled(ctx, taskID); cancelled {
		if _, err := w.Tasks.CancelTask(ctx, taskID); err != nil {
			return fmt.Errorf("op=CompletionWorker.Handle: %w", err)
		}
		return nil
	}

	if err := w.Tasks.CompleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("op=CompletionWorker.Handle: %w", err)
	}
	slog.InfoContext(ctx, "scan job completed", slog.Int64("task_id", taskID), slog.Int64("library_id", libraryID))
	return nil
}
