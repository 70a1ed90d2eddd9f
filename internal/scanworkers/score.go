package scanworkers

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var scoreWorkerTracer = otel.Tracer("scanworkers.score")

// ScoreWorker consumes domain.TopicScoreJobs, a job-level message computing
// AuthorSimilarity rows for every author pair in a library sharing
// subjects or works, staleness-gated the same way as the in-process
// ScoreStage, then forwards to domain.TopicCompletionJobs (§4.7 step 6,
// §4.8 worker table).
type ScoreWorker struct {
	Repo                     domain.AuthorGraphRepository
	Broker                   domain.Broker
	StaleMaxAgeDays          *int
	StaleRefreshIntervalDays *int
}

// Handle implements domain.Handler for domain.TopicScoreJobs.
func (w ScoreWorker) Handle(ctx domain.Context, msg domain.Message) error {
	ctx, span := scoreWorkerTracer.Start(ctx, "ScoreWorker.Handle")
	defer span.End()

	taskID, _ := asInt64(msg.Payload[fieldTaskID])
	libraryID, ok := asInt64(msg.Payload[fieldLibraryID])
	if !ok {
		slog.ErrorContext(ctx, "score worker message missing library_id", slog.String("message_id", msg.ID))
		return nil
	}

	rows, err := w.Repo.ListAuthorMetadataByLibrary(ctx, libraryID)
	if err != nil {
		return fmt.Errorf("op=ScoreWorker.Handle: %w", err)
	}

	computed, skipped := 0, 0
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			a, b := rows[i], rows[j]
			if w.recentlyComputed(ctx, a.ID, b.ID) {
				skipped++
				continue
			}
			score := sharedSubjectScore(a, b)
			if score <= 0 {
				continue
			}
			if err := w.Repo.UpsertSimilarity(ctx, domain.AuthorSimilarity{Author1ID: a.ID, Author2ID: b.ID, Score: score}); err != nil {
				slog.ErrorContext(ctx, "score worker upsert failed", slog.Int64("author1_id", a.ID), slog.Int64("author2_id", b.ID), slog.Any("error", err))
				continue
			}
			computed++
		}
	}

	slog.InfoContext(ctx, "score worker finished", slog.Int64("library_id", libraryID), slog.Int("computed", computed), slog.Int("skipped", skipped))

	if err := w.Broker.Publish(ctx, domain.TopicCompletionJobs, map[string]any{fieldTaskID: taskID, fieldLibraryID: libraryID}); err != nil {
		return fmt.Errorf("op=ScoreWorker.Handle: %w", err)
	}
	return nil
}

func (w ScoreWorker) recentlyComputed(ctx domain.Context, authorID, otherID int64) bool {
	existing, err := w.Repo.ListSimilaritiesByAuthor(ctx, authorID)
	if err != nil {
		return false
	}
	for _, sim := range existing {
		if sim.Author1ID == otherID || sim.Author2ID == otherID {
			daysSinceComputed := time.Since(sim.ComputedAt).Hours() / 24
			return domain.ShouldSkipRefresh(daysSinceComputed, w.StaleMaxAgeDays, w.StaleRefreshIntervalDays)
		}
	}
	return false
}

// sharedSubjectScore is a Jaccard index over the union of each author's
// work subjects and work keys, identical to the in-process ScoreStage's
// own helper.
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
