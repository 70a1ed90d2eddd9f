package scanworkers

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

var matchWorkerTracer = otel.Tracer("scanworkers.match")

// MatchWorker consumes domain.TopicMatchQueue, applies the §4.4 staleness/
// skip rules and matching orchestrator for a single author, and either
// publishes to domain.TopicIngestQueue (on a match) or increments the
// job's processed counter directly (on an unmatched/skip outcome), since
// that author's per-author chain ends here rather than reaching Link
// (§4.8 worker table).
type MatchWorker struct {
	Sources      *domain.DataSourceRegistry
	Orchestrator *matching.Orchestrator
	Repo         domain.AuthorGraphRepository
	Broker       domain.Broker
	Tracker      domain.ProgressTracker
}

// Handle implements domain.Handler for domain.TopicMatchQueue.
func (w MatchWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := matchWorkerTracer.Start(ctx, "MatchWorker.Handle")
	defer span.End()

	taskID, _ := asInt64(msg.Payload[fieldTaskID])
	libraryID, ok := asInt64(msg.Payload[fieldLibraryID])
	if !ok {
		slog.ErrorContext(ctx, "match worker message missing library_id", slog.String("message_id", msg.ID))
		return nil
	}

	if cancelled, _ := w.Tracker.IsCancelled(ctx, taskID); cancelled {
		return w.drain(ctx, libraryID, taskID, "cancelled")
	}

	if first, err := w.Tracker.MarkStageStarted(ctx, libraryID, "match"); err == nil && first {
		slog.InfoContext(ctx, "match stage started", slog.Int64("library_id", libraryID))
	}

	author := decodeCalibreAuthor(msg.Payload)
	dsName, dsKwargs := dataSourceConfig(msg.Payload)
	source, err := w.Sources.Create(dsName, dsKwargs)
	if err != nil {
		slog.ErrorContext(ctx, "match worker could not resolve data source", slog.String("data_source", dsName), slog.Any("error", err))
		return w.drain(ctx, libraryID, taskID, "no_data_source")
	}

	opts := matching.ProcessOptions{Force: asBool(msg.Payload[fieldForce]), StaleMaxAgeDays: asIntPtr(msg.Payload[fieldStaleMaxAgeDays])}
	result, err := matching.ProcessMatchRequest(ctx, w.Orchestrator, w.Repo, author, libraryID, source, opts)
	if err != nil {
		slog.ErrorContext(ctx, "match worker failed for author", slog.Int64("calibre_author_id", author.ID), slog.Any("error", err))
		return w.drain(ctx, libraryID, taskID, "error")
	}

	if result == nil {
		return w.drain(ctx, libraryID, taskID, "unmatched_or_skipped")
	}

	envelope := map[string]any{
		fieldTaskID:           taskID,
		fieldLibraryID:        libraryID,
		fieldCalibreAuthorID:  author.ID,
		fieldAuthorName:       author.Name,
		fieldDataSourceConfig: encodeDataSourceConfig(dsName, dsKwargs),
		fieldMatchResult:      encodeMatchResult(*result),
	}
	if v, ok := msg.Payload[fieldStaleRefreshIntervalDays]; ok {
		envelope[fieldStaleRefreshIntervalDays] = v
	}
	if v, ok := msg.Payload[fieldMaxWorksPerAuthor]; ok {
		envelope[fieldMaxWorksPerAuthor] = v
	}
	if err := w.Broker.Publish(ctx, domain.TopicIngestQueue, envelope); err != nil {
		return fmt.Errorf("op=MatchWorker.Handle: %w", err)
	}
	return nil
}

// drain increments the job's processed counter for an author whose chain
// ends at this worker, cascading to score_jobs itself if this was the
// job's last outstanding author (§4.8).
func (w MatchWorker) drain(ctx domain.Context, libraryID, taskID int64, reason string) error {
	lastItem, err := w.Tracker.MarkItemProcessed(ctx, libraryID)
	if err != nil {
		return fmt.Errorf("op=MatchWorker.drain: %w", err)
	}
	slog.DebugContext(ctx, "match worker drained author without publishing downstream", slog.Int64("library_id", libraryID), slog.String("reason", reason))
	if lastItem {
		if err := w.Broker.Publish(ctx, domain.TopicScoreJobs, map[string]any{fieldTaskID: taskID, fieldLibraryID: libraryID}); err != nil {
			return fmt.Errorf("op=MatchWorker.drain: %w", err)
		}
	}
	return nil
}
