package dedupe

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

// DefaultSimilarityThreshold is the default duplicate-detection floor (§4.9).
const DefaultSimilarityThreshold = 0.85

// Pair is a candidate duplicate, a.ID < b.ID by construction (§4.9).
type Pair struct {
	A, B  domain.AuthorMetadata
	Score float64
}

// Detector finds duplicate candidate pairs among a set of AuthorMetadata
// rows by normalized-name similarity, also comparing alternate names
// cross-product (§4.9).
type Detector struct {
	Threshold float64
}

// NewDetector returns a Detector using DefaultSimilarityThreshold when
// threshold is zero.
func NewDetector(threshold float64) Detector {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return Detector{Threshold: threshold}
}

// FindPairs emits every unordered pair (a,b), a.ID < b.ID, whose names or
// alternate names are similar enough to be considered duplicates. Pairs are
// emitted lazily via yield; returning false from yield stops iteration.
func (d Detector) FindPairs(rows []domain.AuthorMetadata, yield func(Pair) bool) {
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			a, b := rows[i], rows[j]
			if a.ID > b.ID {
				a, b = b, a
			}
			score, ok := d.bestSimilarity(a, b)
			if !ok {
				continue
			}
			if !yield(Pair{A: a, B: b, Score: score}) {
				return
			}
		}
	}
}

// bestSimilarity returns the highest similarity across the name comparison
// and every alternate-name cross-product pairing that clears the threshold.
func (d Detector) bestSimilarity(a, b domain.AuthorMetadata) (float64, bool) {
	best := matching.Similarity(a.Name, b.Name)

	candidatesA := append([]string{a.Name}, a.AlternateNames...)
	candidatesB := append([]string{b.Name}, b.AlternateNames...)
	for _, ca := range candidatesA {
		for _, cb := range candidatesB {
			if s := matching.Similarity(ca, cb); s > best {
				best = s
			}
		}
	}

	if best >= d.Threshold {
		return best, true
	}
	return best, false
}
