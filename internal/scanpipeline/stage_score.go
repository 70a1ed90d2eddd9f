package scanpipeline

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var scoreTracer = otel.Tracer("scanpipeline.score")

// ScoreStage computes AuthorSimilarity rows for every pair of authors in
// the library that share subjects or works, skipping pairs whose existing
// similarity was computed recently enough (§4.7 step 6).
type ScoreStage struct {
	Repo domain.AuthorGraphRepository
}

func (s ScoreStage) Name() string { return "score" }

func (s ScoreStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	ctx, span := scoreTracer.Start(ctx, "ScoreStage.Execute")
	defer span.End()

	rows, err := s.Repo.ListAuthorMetadataByLibrary(ctx, sc.LibraryID)
	if err != nil {
		return StageResult{}, fmt.Errorf("op=ScoreStage.Execute: %w", err)
	}

	computed, skipped := 0, 0
	total := len(rows) * (len(rows) - 1) / 2
	idx := 0

	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if sc.Cancelled() {
				goto done
			}
			idx++
			a, b := rows[i], rows[j]

			if s.recentlyComputed(ctx, a.ID, b.ID, sc) {
				skipped++
				continue
			}

			score := sharedSubjectScore(a, b)
			if score <= 0 {
				continue
			}
			if err := s.Repo.UpsertSimilarity(ctx, domain.AuthorSimilarity{Author1ID: a.ID, Author2ID: b.ID, Score: score}); err != nil {
				slog.ErrorContext(ctx, "score stage upsert failed", slog.Int64("author1_id", a.ID), slog.Int64("author2_id", b.ID), slog.Any("error", err))
				continue
			}
			computed++
			sc.reportStage(float64(idx)/float64(maxInt(total, 1)), s.Name(), "running", idx, total, map[string]any{"computed": computed, "skipped": skipped})
		}
	}
done:

	sc.reportStage(1.0, s.Name(), "completed", total, total, map[string]any{"computed": computed, "skipped": skipped})

	return StageResult{
		Success: true,
		Message: fmt.Sprintf("computed %d similarities, skipped %d of %d pairs", computed, skipped, total),
		Stats:   map[string]any{"computed": computed, "skipped": skipped, "total": total},
	}, nil
}

// recentlyComputed reports whether an existing similarity row for (a,b)
// falls within the staleness window configured for this scan.
func (s ScoreStage) recentlyComputed(ctx domain.Context, authorID, otherID int64, sc *ScanContext) bool {
	existing, err := s.Repo.ListSimilaritiesByAuthor(ctx, authorID)
	if err != nil {
		return false
	}
	for _, sim := range existing {
		if sim.Author1ID == otherID || sim.Author2ID == otherID {
			daysSinceComputed := time.Since(sim.ComputedAt).Hours() / 24
			return domain.ShouldSkipRefresh(daysSinceComputed, sc.StaleMaxAgeDays, sc.StaleRefreshIntervalDays)
		}
	}
	return false
}

// sharedSubjectScore is a Jaccard index over the union of each author's
// work subjects and work keys.
func sharedSubjectScore(a, b domain.AuthorMetadata) float64 {
	setA := subjectSet(a)
	setB := subjectSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for k := range setA {
		if setB[k] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func subjectSet(a domain.AuthorMetadata) map[string]bool {
	set := make(map[string]bool)
	for _, w := range a.Works {
		set[w.WorkKey] = true
		for _, subj := range w.Subjects {
			set[subj] = true
		}
	}
	return set
}
