// Package dedupe implements the duplicate detector, quality scorer, and
// merger shared by the in-process Deduplicate stage (§4.7 step 5) and the
// distributed Deduplicate worker (§4.8).
package dedupe

import (
	"time"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// QualityScore ranks an AuthorMetadata row for keep-vs-merge decisions
// (§4.9). Higher is better.
func QualityScore(a domain.AuthorMetadata, now time.Time) float64 {
	return workCountScore(a) + ratingsScore(a) + completenessScore(a) + recencyScore(a, now)
}

func workCountScore(a domain.AuthorMetadata) float64 {
	return min(40, 0.4*float64(a.WorkCount))
}

func ratingsScore(a domain.AuthorMetadata) float64 {
	return min(30, float64(a.RatingsCount)/10000*30)
}

func completenessScore(a domain.AuthorMetadata) float64 {
	sum := 0.0
	if a.Biography != "" {
		sum += 3
	}
	for _, field := range []string{derefOr(a.BirthDate), derefOr(a.DeathDate), a.Location, a.PhotoURL} {
		if field != "" {
			sum += 2
		}
	}
	for _, field := range []string{a.Personal, a.Fuller, a.Title, a.TopWork} {
		if field != "" {
			sum += 1
		}
	}
	if a.RatingsAverage != nil {
		sum += 1
	}
	return min(20, sum*2)
}

func recencyScore(a domain.AuthorMetadata, now time.Time) float64 {
	if a.LastSyncedAt == nil {
		return 2
	}
	daysSinceSync := now.Sub(*a.LastSyncedAt).Hours() / 24
	return max(0, 10-daysSinceSync/365*10)
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
