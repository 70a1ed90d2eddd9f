package scanworkers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

var ingestWorkerTracer = otel.Tracer("scanworkers.ingest")

// IngestWorker consumes domain.TopicIngestQueue, refetching and persisting
// one author's full external data (staleness-gated exactly like the
// in-process IngestStage), then always forwards to domain.TopicLinkQueue
// regardless of whether a refetch happened (§4.8 worker table, §4.7 step 3).
type IngestWorker struct {
	Sources *domain.DataSourceRegistry
	Repo    domain.AuthorGraphRepository
	Broker  domain.Broker
	Tracker domain.ProgressTracker
}

// Handle implements domain.Handler for domain.TopicIngestQueue.
func (w IngestWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := ingestWorkerTracer.Start(ctx, "IngestWorker.Handle")
	defer span.End()

	taskID, _ := asInt64(msg.Payload[fieldTaskID])
	libraryID, ok := asInt64(msg.Payload[fieldLibraryID])
	if !ok {
		slog.ErrorContext(ctx, "ingest worker message missing library_id", slog.String("message_id", msg.ID))
		return nil
	}
	calibreAuthorID, _ := asInt64(msg.Payload[fieldCalibreAuthorID])

	if cancelled, _ := w.Tracker.IsCancelled(ctx, taskID); cancelled {
		return w.forward(ctx, msg)
	}

	if first, err := w.Tracker.MarkStageStarted(ctx, libraryID, "ingest"); err == nil && first {
		slog.InfoContext(ctx, "ingest stage started", slog.Int64("library_id", libraryID))
	}

	result, ok := decodeMatchResult(msg.Payload, calibreAuthorID)
	if !ok || result.Author.Key == "" {
		slog.ErrorContext(ctx, "ingest worker message missing match_result", slog.String("message_id", msg.ID))
		return w.forward(ctx, msg)
	}

	if err := w.ingestOne(ctx, msg, result); err != nil {
		slog.ErrorContext(ctx, "ingest worker failed for author", slog.String("external_key", result.Author.Key), slog.Any("error", err))
	}

	return w.forward(ctx, msg)
}

func (w IngestWorker) ingestOne(ctx domain.Context, msg domain.Message, result matching.MatchResult) error {
	existing, err := w.Repo.GetAuthorMetadataByExternalKey(ctx, result.Author.Key)
	hasExisting := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("op=ingestOne: %w", err)
	}

	daysSinceSync := float64(1 << 30)
	if hasExisting && existing.LastSyncedAt != nil {
		daysSinceSync = time.Since(*existing.LastSyncedAt).Hours() / 24
	}
	staleMaxAgeDays := asIntPtr(msg.Payload[fieldStaleMaxAgeDays])
	staleRefreshIntervalDays := asIntPtr(msg.Payload[fieldStaleRefreshIntervalDays])
	if hasExisting && domain.ShouldSkipRefresh(daysSinceSync, staleMaxAgeDays, staleRefreshIntervalDays) {
		return nil
	}

	dsName, dsKwargs := dataSourceConfig(msg.Payload)
	source, err := w.Sources.Create(dsName, dsKwargs)
	if err != nil {
		return fmt.Errorf("op=ingestOne: %w", err)
	}

	data, err := source.GetAuthor(ctx, result.Author.Key)
	if err != nil {
		return fmt.Errorf("op=ingestOne: %w", err)
	}
	if data == nil {
		return fmt.Errorf("op=ingestOne: %w", domain.ErrSourceNotFound)
	}

	maxWorks := 0
	if v := asIntPtr(msg.Payload[fieldMaxWorksPerAuthor]); v != nil {
		maxWorks = *v
	}
	works, werr := source.GetAuthorWorks(ctx, result.Author.Key, maxWorks, "")
	if werr != nil {
		slog.WarnContext(ctx, "ingest worker could not fetch works", slog.String("external_key", result.Author.Key), slog.Any("error", werr))
		works = nil
	}

	now := time.Now()
	meta := domain.AuthorMetadata{
		Name:           data.Name,
		ExternalKey:    &data.Key,
		AlternateNames: data.AlternateNames,
		Biography:      data.Biography,
		BirthDate:      data.BirthDate,
		DeathDate:      data.DeathDate,
		Location:       data.Location,
		PhotoURL:       data.PhotoURL,
		Personal:       data.Personal,
		Fuller:         data.Fuller,
		Title:          data.Title,
		TopWork:        data.TopWork,
		RatingsAverage: data.RatingsAverage,
		RatingsCount:   data.RatingsCount,
		Works:          toAuthorWorks(works),
		LastSyncedAt:   &now,
	}

	if hasExisting {
		meta.ID = existing.ID
		return w.Repo.UpdateAuthorMetadata(ctx, meta)
	}
	_, err = w.Repo.CreateAuthorMetadata(ctx, meta)
	return err
}

func (w IngestWorker) forward(ctx domain.Context, msg domain.Message) error {
	envelope := make(map[string]any, len(msg.Payload))
	for k, v := range msg.Payload {
		if k != "message_id" {
			envelope[k] = v
		}
	}
	if err := w.Broker.Publish(ctx, domain.TopicLinkQueue, envelope); err != nil {
		return fmt.Errorf("op=IngestWorker.forward: %w", err)
	}
	return nil
}

func toAuthorWorks(works []domain.WorkKey) []domain.AuthorWork {
	out := make([]domain.AuthorWork, 0, len(works))
	for _, wk := range works {
		out = append(out, domain.AuthorWork{WorkKey: wk.Key, Title: wk.Title})
	}
	return out
}
