package scanpipeline

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

var matchTracer = otel.Tracer("scanpipeline.match")

// MatchStage applies the staleness/skip rules and invokes the matching
// orchestrator for every crawled author (§4.7 step 2). A network or
// persistence error for one author is logged and that author is skipped;
// the stage continues for the rest.
type MatchStage struct {
	Orchestrator *matching.Orchestrator
	Repo         domain.AuthorGraphRepository
}

func (s MatchStage) Name() string { return "match" }

func (s MatchStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	ctx, span := matchTracer.Start(ctx, "MatchStage.Execute")
	defer span.End()

	total := len(sc.CrawledAuthors)
	matched, unmatched, failed := 0, 0, 0

	opts := matching.ProcessOptions{Force: sc.ForceRematch, StaleMaxAgeDays: sc.StaleMaxAgeDays}

	for i, author := range sc.CrawledAuthors {
		if sc.Cancelled() {
			break
		}

		result, err := matching.ProcessMatchRequest(ctx, s.Orchestrator, s.Repo, author, sc.LibraryID, sc.DataSource, opts)
		if err != nil {
			failed++
			slog.ErrorContext(ctx, "match stage failed for author", slog.Int64("calibre_author_id", author.ID), slog.Any("error", err))
			sc.reportStage(float64(i+1)/float64(maxInt(total, 1)), s.Name(), "running", i+1, total, map[string]any{"failed": failed})
			continue
		}

		if result != nil {
			matched++
			sc.MatchResults = append(sc.MatchResults, MatchEntry{Author: author, Result: result})
		} else {
			unmatched++
			sc.UnmatchedAuthors = append(sc.UnmatchedAuthors, author)
		}
		sc.reportStage(float64(i+1)/float64(maxInt(total, 1)), s.Name(), "running", i+1, total, map[string]any{"matched": matched, "unmatched": unmatched})
	}

	sc.reportStage(1.0, s.Name(), "completed", total, total, map[string]any{"matched": matched, "unmatched": unmatched, "failed": failed})

	return StageResult{
		Success: true,
		Message: fmt.Sprintf("matched %d, unmatched %d, failed %d of %d", matched, unmatched, failed, total),
		Stats:   map[string]any{"matched": matched, "unmatched": unmatched, "failed": failed, "total": total},
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
