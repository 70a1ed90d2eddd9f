package dedupe

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var mergerTracer = otel.Tracer("dedupe.merger")

// Merger merges a losing AuthorMetadata row into a winning one (§4.9).
type Merger struct {
	Repo domain.AuthorGraphRepository
	Now  func() time.Time
}

// NewMerger constructs a Merger, defaulting Now to time.Now.
func NewMerger(repo domain.AuthorGraphRepository) Merger {
	return Merger{Repo: repo, Now: time.Now}
}

// Decide picks the keep/merge row for a pair by quality score; ties favor
// the lower id (stable, deterministic).
func (m Merger) Decide(pair Pair) (keep, merge domain.AuthorMetadata) {
	now := m.Now()
	sa, sb := QualityScore(pair.A, now), QualityScore(pair.B, now)
	switch {
	case sa > sb:
		return pair.A, pair.B
	case sb > sa:
		return pair.B, pair.A
	default:
		if pair.A.ID <= pair.B.ID {
			return pair.A, pair.B
		}
		return pair.B, pair.A
	}
}

// Merge merges merge into keep (§4.9 steps 1-4): transfer child
// collections, repoint mappings and similarities, merge scalar fields,
// delete the losing row. The four repository calls run one after another,
// not inside one transaction, so an error part-way leaves the steps before
// it applied.
func (m Merger) Merge(ctx domain.Context, keep, merge domain.AuthorMetadata) error {
	ctx, span := mergerTracer.Start(ctx, "Merger.Merge")
	defer span.End()

	merged := mergeScalarFields(keep, merge)
	merged.RemoteIDs = mergeRemoteIDs(keep.RemoteIDs, merge.RemoteIDs)
	merged.Works = mergeWorks(keep.Works, merge.Works)
	merged.AlternateNames = mergeAlternateNames(keep.AlternateNames, merge.AlternateNames, merge.Name)

	if err := m.Repo.UpdateAuthorMetadata(ctx, merged); err != nil {
		return fmt.Errorf("op=Merge: %w", err)
	}
	if err := m.Repo.RepointMappings(ctx, merge.ID, keep.ID); err != nil {
		return fmt.Errorf("op=Merge: %w", err)
	}
	if err := m.Repo.RepointSimilarities(ctx, merge.ID, keep.ID); err != nil {
		return fmt.Errorf("op=Merge: %w", err)
	}
	if err := m.Repo.DeleteAuthorMetadata(ctx, merge.ID); err != nil {
		return fmt.Errorf("op=Merge: %w", err)
	}
	return nil
}

// mergeScalarFields prefers keep's non-null value for every scalar field;
// on both-present conflicts it keeps keep's value, since keep was already
// chosen as the higher-quality row (§4.9 step 3).
func mergeScalarFields(keep, merge domain.AuthorMetadata) domain.AuthorMetadata {
	out := keep
	if out.Biography == "" {
		out.Biography = merge.Biography
	}
	if out.BirthDate == nil {
		out.BirthDate = merge.BirthDate
	}
	if out.DeathDate == nil {
		out.DeathDate = merge.DeathDate
	}
	if out.Location == "" {
		out.Location = merge.Location
	}
	if out.PhotoURL == "" {
		out.PhotoURL = merge.PhotoURL
	}
	if out.Personal == "" {
		out.Personal = merge.Personal
	}
	if out.Fuller == "" {
		out.Fuller = merge.Fuller
	}
	if out.Title == "" {
		out.Title = merge.Title
	}
	if out.TopWork == "" {
		out.TopWork = merge.TopWork
	}
	if out.RatingsAverage == nil {
		out.RatingsAverage = merge.RatingsAverage
	}
	if out.RatingsCount == 0 {
		out.RatingsCount = merge.RatingsCount
	}
	if out.WorkCount == 0 {
		out.WorkCount = merge.WorkCount
	}
	if out.LastSyncedAt == nil {
		out.LastSyncedAt = merge.LastSyncedAt
	}
	return out
}

func mergeRemoteIDs(keep, merge []domain.AuthorRemoteID) []domain.AuthorRemoteID {
	type key struct{ kind, value string }
	seen := make(map[key]bool, len(keep))
	out := make([]domain.AuthorRemoteID, 0, len(keep)+len(merge))
	for _, rid := range keep {
		k := key{rid.IdentifierType, rid.Value}
		if !seen[k] {
			seen[k] = true
			out = append(out, rid)
		}
	}
	for _, rid := range merge {
		k := key{rid.IdentifierType, rid.Value}
		if !seen[k] {
			seen[k] = true
			out = append(out, rid)
		}
	}
	return out
}

func mergeWorks(keep, merge []domain.AuthorWork) []domain.AuthorWork {
	seen := make(map[string]bool, len(keep))
	out := make([]domain.AuthorWork, 0, len(keep)+len(merge))
	for _, w := range keep {
		if !seen[w.WorkKey] {
			seen[w.WorkKey] = true
			out = append(out, w)
		}
	}
	for _, w := range merge {
		if !seen[w.WorkKey] {
			seen[w.WorkKey] = true
			out = append(out, w)
		}
	}
	return out
}

func mergeAlternateNames(keep, merge []string, mergedCanonicalName string) []string {
	seen := make(map[string]bool, len(keep)+len(merge)+1)
	out := make([]string, 0, len(keep)+len(merge)+1)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, n := range keep {
		add(n)
	}
	for _, n := range merge {
		add(n)
	}
	add(mergedCanonicalName)
	return out
}
