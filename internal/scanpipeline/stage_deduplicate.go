package scanpipeline

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/dedupe"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var deduplicateTracer = otel.Tracer("scanpipeline.deduplicate")

// DeduplicateStage detects and merges duplicate AuthorMetadata rows within
// the scanned library (§4.7 step 5, §4.9). It operates on the full
// per-library set rather than just this run's match results, since
// duplicates may involve rows untouched by the current scan.
type DeduplicateStage struct {
	Repo     domain.AuthorGraphRepository
	Detector dedupe.Detector
	Merger   dedupe.Merger
}

func (s DeduplicateStage) Name() string { return "deduplicate" }

func (s DeduplicateStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	ctx, span := deduplicateTracer.Start(ctx, "DeduplicateStage.Execute")
	defer span.End()

	rows, err := s.Repo.ListAuthorMetadataByLibrary(ctx, sc.LibraryID)
	if err != nil {
		return StageResult{}, fmt.Errorf("op=DeduplicateStage.Execute: %w", err)
	}

	merged := make(map[int64]bool, len(rows))
	candidates, pairCount := 0, 0
	s.Detector.FindPairs(rows, func(pair dedupe.Pair) bool {
		pairCount++
		if merged[pair.A.ID] || merged[pair.B.ID] {
			return true
		}
		if sc.Cancelled() {
			return false
		}
		keep, lose := s.Merger.Decide(pair)
		if err := s.Merger.Merge(ctx, keep, lose); err != nil {
			slog.ErrorContext(ctx, "deduplicate stage failed to merge pair", slog.Int64("keep_id", keep.ID), slog.Int64("merge_id", lose.ID), slog.Any("error", err))
			return true
		}
		merged[lose.ID] = true
		candidates++
		return true
	})

	sc.reportStage(1.0, s.Name(), "completed", len(rows), len(rows), map[string]any{"pairs_considered": pairCount, "merged": candidates})

	return StageResult{
		Success: true,
		Message: fmt.Sprintf("considered %d pairs, merged %d duplicates of %d authors", pairCount, candidates, len(rows)),
		Stats:   map[string]any{"pairs_considered": pairCount, "merged": candidates, "author_count": len(rows)},
	}, nil
}
