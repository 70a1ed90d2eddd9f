package scanworkers

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/dedupe"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var deduplicateWorkerTracer = otel.Tracer("scanworkers.deduplicate")

// DeduplicateWorker consumes domain.TopicDeduplicateJobs, a job-level (not
// per-author) message addressed directly at a library rather than reached
// through the per-author cascade — the normal scan cascade hands off
// straight from Link to Score (§4.8 worker table); this topic is the
// standalone entry point for triggering deduplication on its own, e.g. as
// a separate maintenance job, after which it forwards to
// domain.TopicScoreJobs exactly like the cascade would.
type DeduplicateWorker struct {
	Repo     domain.AuthorGraphRepository
	Detector dedupe.Detector
	Merger   dedupe.Merger
	Broker   domain.Broker
}

// Handle implements domain.Handler for domain.TopicDeduplicateJobs.
func (w DeduplicateWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := deduplicateWorkerTracer.Start(ctx, "DeduplicateWorker.Handle")
	defer span.End()

	taskID, _ := asInt64(msg.Payload[fieldTaskID])
	libraryID, ok := asInt64(msg.Payload[fieldLibraryID])
	if !ok {
		slog.ErrorContext(ctx, "deduplicate worker message missing library_id", slog.String("message_id", msg.ID))
		return nil
	}

	rows, err := w.Repo.ListAuthorMetadataByLibrary(ctx, libraryID)
	if err != nil {
		return fmt.Errorf("op=DeduplicateWorker.Handle: %w", err)
	}

	merged := make(map[int64]bool, len(rows))
	candidates := 0
	w.Detector.FindPairs(rows, func(pair dedupe.Pair) bool {
		if merged[pair.A.ID] || merged[pair.B.ID] {
			return true
		}
		keep, lose := w.Merger.Decide(pair)
		if err := w.Merger.Merge(ctx, keep, lose); err != nil {
			slog.ErrorContext(ctx, "deduplicate worker failed to merge pair", slog.Int64("keep_id", keep.ID), slog.Int64("merge_id", lose.ID), slog.Any("error", err))
			return true
		}
		merged[lose.ID] = true
		candidates++
		return true
	})

	slog.InfoContext(ctx, "deduplicate worker finished", slog.Int64("library_id", libraryID), slog.Int("merged", candidates), slog.Int("author_count", len(rows)))

	if err := w.Broker.Publish(ctx, domain.TopicScoreJobs, map[string]any{fieldTaskID: taskID, fieldLibraryID: libraryID}); err != nil {
		return fmt.Errorf("op=DeduplicateWorker.Handle: %w", err)
	}
	return nil
}
