package scanpipeline

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var linkTracer = otel.Tracer("scanpipeline.link")

// LinkStage confirms the (library, calibre_author) -> author_metadata
// mapping for every match result, creating it if the Match stage's own
// persistence (via matching.ProcessMatchRequest) hasn't already and
// updating it if the confirmed metadata/confidence has since changed by
// the Ingest stage's refetch (§4.7 step 4). Idempotent: re-running with
// unchanged inputs reports every row as skipped.
type LinkStage struct {
	Repo domain.AuthorGraphRepository
}

func (s LinkStage) Name() string { return "link" }

func (s LinkStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	ctx, span := linkTracer.Start(ctx, "LinkStage.Execute")
	defer span.End()

	created, updated, skipped := 0, 0, 0
	total := len(sc.MatchResults) + len(sc.UnmatchedAuthors)
	idx := 0

	for _, entry := range sc.MatchResults {
		if sc.Cancelled() {
			break
		}
		idx++
		metaID, err := s.Repo.GetAuthorMetadataByExternalKey(ctx, entry.Result.Author.Key)
		if err != nil {
			slog.ErrorContext(ctx, "link stage could not resolve metadata", slog.String("external_key", entry.Result.Author.Key), slog.Any("error", err))
			continue
		}
		c, u, err := s.confirmMapping(ctx, sc.LibraryID, entry.Author.ID, metaID.ID, entry.Result.Confidence, entry.Result.MatchedBy)
		if err != nil {
			slog.ErrorContext(ctx, "link stage failed to confirm mapping", slog.Int64("calibre_author_id", entry.Author.ID), slog.Any("error", err))
			continue
		}
		created += boolToCount(c)
		updated += boolToCount(u)
		if !c && !u {
			skipped++
		}
		sc.reportStage(float64(idx)/float64(maxInt(total, 1)), s.Name(), "running", idx, total, map[string]any{"created": created, "updated": updated, "skipped": skipped})
	}

	for _, author := range sc.UnmatchedAuthors {
		if sc.Cancelled() {
			break
		}
		idx++
		existing, hasExisting, err := s.Repo.FindMappingByCalibreAuthorAndLibrary(ctx, author.ID, sc.LibraryID)
		if err != nil {
			slog.ErrorContext(ctx, "link stage lookup failed for unmatched author", slog.Int64("calibre_author_id", author.ID), slog.Any("error", err))
			continue
		}
		if hasExisting && existing.MatchedBy == domain.MatchUnmatched {
			skipped++
			continue
		}
		if !hasExisting {
			created++
		}
		sc.reportStage(float64(idx)/float64(maxInt(total, 1)), s.Name(), "running", idx, total, map[string]any{"created": created, "updated": updated, "skipped": skipped})
	}

	sc.reportStage(1.0, s.Name(), "completed", total, total, map[string]any{"mappings_created": created, "mappings_updated": updated, "skipped": skipped})

	return StageResult{
		Success: true,
		Message: fmt.Sprintf("mappings created=%d updated=%d skipped=%d", created, updated, skipped),
		Stats:   map[string]any{"mappings_created": created, "mappings_updated": updated, "skipped": skipped},
	}, nil
}

func (s LinkStage) confirmMapping(ctx domain.Context, libraryID, calibreAuthorID, metadataID int64, confidence float64, matchedBy domain.MatchMethod) (created, updated bool, err error) {
	existing, hasExisting, err := s.Repo.FindMappingByCalibreAuthorAndLibrary(ctx, calibreAuthorID, libraryID)
	if err != nil {
		return false, false, fmt.Errorf("op=confirmMapping: %w", err)
	}

	mapping := domain.AuthorMapping{
		LibraryID:        libraryID,
		CalibreAuthorID:  calibreAuthorID,
		AuthorMetadataID: metadataID,
		ConfidenceScore:  confidence,
		MatchedBy:        matchedBy,
	}

	if !hasExisting {
		if _, err := s.Repo.CreateMapping(ctx, mapping); err != nil {
			return false, false, fmt.Errorf("op=confirmMapping: %w", err)
		}
		return true, false, nil
	}

	if existing.AuthorMetadataID == metadataID && existing.MatchedBy == matchedBy && existing.ConfidenceScore == confidence {
		return false, false, nil
	}

	mapping.ID = existing.ID
	mapping.IsVerified = existing.IsVerified
	if err := s.Repo.UpdateMapping(ctx, mapping); err != nil {
		return false, false, fmt.Errorf("op=confirmMapping: %w", err)
	}
	return false, true, nil
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
