package scanpipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var ingestTracer = otel.Tracer("scanpipeline.ingest")

// IngestStage deduplicates match results by external key and, per unique
// key, refetches and persists full author data when stale (§4.7 step 3).
type IngestStage struct {
	Repo domain.AuthorGraphRepository
}

func (s IngestStage) Name() string { return "ingest" }

func (s IngestStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	ctx, span := ingestTracer.Start(ctx, "IngestStage.Execute")
	defer span.End()

	keys := uniqueExternalKeys(sc.MatchResults)
	total := len(keys)
	refreshed, skipped, failed := 0, 0, 0

	for i, key := range keys {
		if sc.Cancelled() {
			break
		}

		existing, err := s.Repo.GetAuthorMetadataByExternalKey(ctx, key)
		hasExisting := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			failed++
			slog.ErrorContext(ctx, "ingest stage lookup failed", slog.String("external_key", key), slog.Any("error", err))
			continue
		}

		daysSinceSync := float64(1 << 30) // effectively "never synced" when absent
		if hasExisting && existing.LastSyncedAt != nil {
			daysSinceSync = time.Since(*existing.LastSyncedAt).Hours() / 24
		}
		if hasExisting && domain.ShouldSkipRefresh(daysSinceSync, sc.StaleMaxAgeDays, sc.StaleRefreshIntervalDays) {
			skipped++
			sc.reportStage(float64(i+1)/float64(maxInt(total, 1)), s.Name(), "running", i+1, total, map[string]any{"skipped": skipped})
			continue
		}

		data, gerr := sc.DataSource.GetAuthor(ctx, key)
		if gerr != nil {
			failed++
			slog.ErrorContext(ctx, "ingest stage fetch failed", slog.String("external_key", key), slog.Any("error", gerr))
			sc.reportStage(float64(i+1)/float64(maxInt(total, 1)), s.Name(), "running", i+1, total, map[string]any{"failed": failed})
			continue
		}
		if data == nil {
			failed++
			continue
		}

		works, werr := sc.DataSource.GetAuthorWorks(ctx, key, sc.MaxWorksPerAuthor, "")
		if werr != nil {
			slog.WarnContext(ctx, "ingest stage could not fetch works", slog.String("external_key", key), slog.Any("error", werr))
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
			if uerr := s.Repo.UpdateAuthorMetadata(ctx, meta); uerr != nil {
				failed++
				slog.ErrorContext(ctx, "ingest stage update failed", slog.String("external_key", key), slog.Any("error", uerr))
				continue
			}
		} else {
			if _, cerr := s.Repo.CreateAuthorMetadata(ctx, meta); cerr != nil {
				failed++
				slog.ErrorContext(ctx, "ingest stage create failed", slog.String("external_key", key), slog.Any("error", cerr))
				continue
			}
		}
		refreshed++
		sc.reportStage(float64(i+1)/float64(maxInt(total, 1)), s.Name(), "running", i+1, total, map[string]any{"refreshed": refreshed})
	}

	sc.reportStage(1.0, s.Name(), "completed", total, total, map[string]any{"refreshed": refreshed, "skipped": skipped, "failed": failed})

	return StageResult{
		Success: true,
		Message: fmt.Sprintf("ingested %d, skipped %d, failed %d of %d unique authors", refreshed, skipped, failed, total),
		Stats:   map[string]any{"refreshed": refreshed, "skipped": skipped, "failed": failed, "total": total},
	}, nil
}

func toAuthorWorks(works []domain.WorkKey) []domain.AuthorWork {
	out := make([]domain.AuthorWork, 0, len(works))
	for _, w := range works {
		out = append(out, domain.AuthorWork{WorkKey: w.Key, Title: w.Title})
	}
	return out
}

func uniqueExternalKeys(entries []MatchEntry) []string {
	seen := make(map[string]bool, len(entries))
	var keys []string
	for _, e := range entries {
		if e.Result == nil || e.Result.Author.Key == "" {
			continue
		}
		key := e.Result.Author.Key
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
