package scanworkers

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var linkWorkerTracer = otel.Tracer("scanworkers.link")

// LinkWorker consumes domain.TopicLinkQueue, confirms the (library,
// calibre_author) -> author_metadata mapping for a single author, then
// marks the author processed in the job's progress counter. When this was
// the job's last outstanding author, it publishes the one job-level
// message onto domain.TopicScoreJobs (§4.8 worker table, §4.7 step 4).
type LinkWorker struct {
	Repo    domain.AuthorGraphRepository
	Broker  domain.Broker
	Tracker domain.ProgressTracker
}

// Handle implements domain.Handler for domain.TopicLinkQueue.
func (w LinkWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := linkWorkerTracer.Start(ctx, "LinkWorker.Handle")
	defer span.End()

	taskID, _ := asInt64(msg.Payload[fieldTaskID])
	libraryID, ok := asInt64(msg.Payload[fieldLibraryID])
	if !ok {
		slog.ErrorContext(ctx, "link worker message missing library_id", slog.String("message_id", msg.ID))
		return nil
	}
	calibreAuthorID, _ := asInt64(msg.Payload[fieldCalibreAuthorID])

	cancelled, _ := w.Tracker.IsCancelled(ctx, taskID)
	if !cancelled {
		if first, err := w.Tracker.MarkStageStarted(ctx, libraryID, "link"); err == nil && first {
			slog.InfoContext(ctx, "link stage started", slog.Int64("library_id", libraryID))
		}
		if result, ok := decodeMatchResult(msg.Payload, calibreAuthorID); ok && result.Author.Key != "" {
			if err := w.confirmMapping(ctx, libraryID, calibreAuthorID, result.Author.Key, result.Confidence, result.MatchedBy); err != nil {
				slog.ErrorContext(ctx, "link worker failed to confirm mapping", slog.Int64("calibre_author_id", calibreAuthorID), slog.Any("error", err))
			}
		}
	}

	lastItem, err := w.Tracker.MarkItemProcessed(ctx, libraryID)
	if err != nil {
		return fmt.Errorf("op=LinkWorker.Handle: %w", err)
	}
	if lastItem {
		if err := w.Broker.Publish(ctx, domain.TopicScoreJobs, map[string]any{fieldTaskID: taskID, fieldLibraryID: libraryID}); err != nil {
			return fmt.Errorf("op=LinkWorker.Handle: %w", err)
		}
	}
	return nil
}

func (w LinkWorker) confirmMapping(ctx domain.Context, libraryID, calibreAuthorID int64, externalKey string, confidence float64, matchedBy domain.MatchMethod) error {
	meta, err := w.Repo.GetAuthorMetadataByExternalKey(ctx, externalKey)
	if err != nil {
		return fmt.Errorf("op=confirmMapping: %w", err)
	}

	existing, hasExisting, err := w.Repo.FindMappingByCalibreAuthorAndLibrary(ctx, calibreAuthorID, libraryID)
	if err != nil {
		return fmt.Errorf("op=confirmMapping: %w", err)
	}

	mapping := domain.AuthorMapping{
		LibraryID:        libraryID,
		CalibreAuthorID:  calibreAuthorID,
		AuthorMetadataID: meta.ID,
		ConfidenceScore:  confidence,
		MatchedBy:        matchedBy,
	}
	if !hasExisting {
		_, err := w.Repo.CreateMapping(ctx, mapping)
		return err
	}
	if existing.AuthorMetadataID == meta.ID && existing.MatchedBy == matchedBy && existing.ConfidenceScore == confidence {
		return nil
	}
	mapping.ID = existing.ID
	mapping.IsVerified = existing.IsVerified
	return w.Repo.UpdateMapping(ctx, mapping)
}
