package taskruntime

import (
	"fmt"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// LibraryScanRunner runs a library scan to completion in-process, used by
// NewInProcessLibraryScanHandler. Satisfied by scanpipeline.Pipeline; kept
// as a narrow interface here so taskruntime does not need to import the
// scan pipeline package.
type LibraryScanRunner interface {
	RunScan(ctx domain.Context, libraryID int64, progress domain.ProgressFunc) error
}

// NewInProcessLibraryScanHandler adapts a LibraryScanRunner into a
// domain.TaskHandler for the thread backend: the handler blocks until the
// whole scan pipeline (crawl through completion) finishes, and the
// runtime's normal lifecycle transition applies to the result (§4.5,
// §9 "thread vs broker backend control flow").
func NewInProcessLibraryScanHandler(runner LibraryScanRunner) domain.TaskHandler {
	return func(ctx domain.Context, payload map[string]any, wc domain.WorkerContext) error {
		libraryID, ok := libraryIDFromPayload(payload)
		if !ok {
			return fmt.Errorf("op=InProcessLibraryScanHandler: %w: missing library_id", domain.ErrInvalidArgument)
		}
		return runner.RunScan(ctx, libraryID, wc.UpdateProgress)
	}
}

// NewDistributedLibraryScanHandler adapts the broker backend's library_scan
// handler: rather than running the pipeline itself, it publishes onto the
// scan_jobs topic and returns immediately. The distributed scan workers
// (crawl through completion) cascade from there, and the completion worker
// eventually calls CompleteTask — the task row stays RUNNING in the
// meantime rather than completing when this handler returns (§4.5, §4.8).
func NewDistributedLibraryScanHandler(broker domain.Broker) domain.TaskHandler {
	return func(ctx domain.Context, payload map[string]any, wc domain.WorkerContext) error {
		libraryID, ok := libraryIDFromPayload(payload)
		if !ok {
			return fmt.Errorf("op=DistributedLibraryScanHandler: %w: missing library_id", domain.ErrInvalidArgument)
		}
		envelope := map[string]any{
			"task_id":    wc.TaskID,
			"library_id": libraryID,
		}
		for k, v := range payload {
			if k != "library_id" {
				envelope[k] = v
			}
		}
		if err := broker.Publish(ctx, domain.TopicScanJobs, envelope); err != nil {
			return fmt.Errorf("op=DistributedLibraryScanHandler: %w", err)
		}
		return domain.ErrDeferredCompletion
	}
}

func libraryIDFromPayload(payload map[string]any) (int64, bool) {
	return asInt64(payload["library_id"])
}
