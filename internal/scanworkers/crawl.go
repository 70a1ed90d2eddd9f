package scanworkers

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var crawlWorkerTracer = otel.Tracer("scanworkers.crawl")

// CrawlWorker consumes domain.TopicScanJobs, enumerates the library's
// authors, initializes the job's progress counters to len(authors), and
// publishes one message per author onto domain.TopicMatchQueue (§4.8).
type CrawlWorker struct {
	Libraries domain.LibraryRepository
	Catalog   domain.CalibreCatalog
	Broker    domain.Broker
	Tracker   domain.ProgressTracker
}

// Handle implements domain.Handler for domain.TopicScanJobs.
func (w CrawlWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := crawlWorkerTracer.Start(ctx, "CrawlWorker.Handle")
	defer span.End()

	taskID, _ := asInt64(msg.Payload[fieldTaskID])
	libraryID, ok := asInt64(msg.Payload[fieldLibraryID])
	if !ok {
		slog.ErrorContext(ctx, "crawl worker message missing library_id", slog.String("message_id", msg.ID))
		return nil
	}

	library, err := w.Libraries.Get(ctx, libraryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "crawl worker dropping message for missing library", slog.Int64("library_id", libraryID))
			return nil
		}
		return fmt.Errorf("op=CrawlWorker.Handle: %w", err)
	}

	authors, err := w.Catalog.ListAuthors(ctx, library)
	if err != nil {
		return fmt.Errorf("op=CrawlWorker.Handle: %w", err)
	}

	dsName, dsKwargs := dataSourceConfig(msg.Payload)
	force := asBool(msg.Payload[fieldForce])
	staleMaxAgeDays := asIntPtr(msg.Payload[fieldStaleMaxAgeDays])
	staleRefreshIntervalDays := asIntPtr(msg.Payload[fieldStaleRefreshIntervalDays])
	maxWorksPerAuthor := asIntPtr(msg.Payload[fieldMaxWorksPerAuthor])

	if len(authors) == 0 {
		// No authors to fan out: the per-author counter-drain barrier that
		// would normally trigger the job-level cascade never fires, so
		// crawl publishes the score_jobs handoff itself.
		if err := w.Broker.Publish(ctx, domain.TopicScoreJobs, map[string]any{fieldTaskID: taskID, fieldLibraryID: libraryID}); err != nil {
			return fmt.Errorf("op=CrawlWorker.Handle: %w", err)
		}
		return nil
	}

	if err := w.Tracker.InitializeJob(ctx, libraryID, int64(len(authors)), &taskID); err != nil {
		return fmt.Errorf("op=CrawlWorker.Handle: %w", err)
	}

	for _, author := range authors {
		envelope := map[string]any{
			fieldTaskID:           taskID,
			fieldLibraryID:        libraryID,
			fieldDataSourceConfig: encodeDataSourceConfig(dsName, dsKwargs),
			fieldForce:            force,
		}
		if staleMaxAgeDays != nil {
			envelope[fieldStaleMaxAgeDays] = *staleMaxAgeDays
		}
		if staleRefreshIntervalDays != nil {
			envelope[fieldStaleRefreshIntervalDays] = *staleRefreshIntervalDays
		}
		if maxWorksPerAuthor != nil {
			envelope[fieldMaxWorksPerAuthor] = *maxWorksPerAuthor
		}
		for k, v := range encodeCalibreAuthor(author) {
			envelope[k] = v
		}
		if err := w.Broker.Publish(ctx, domain.TopicMatchQueue, envelope); err != nil {
			slog.ErrorContext(ctx, "crawl worker failed to publish author", slog.Int64("calibre_author_id", author.ID), slog.Any("error", err))
			continue
		}
	}

	slog.InfoContext(ctx, "crawl worker published authors", slog.Int64("library_id", libraryID), slog.Int("author_count", len(authors)))
	return nil
}
