package dedupe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestDetector_FindPairs_ByName(t *testing.T) {
	d := NewDetector(0.85)
	rows := []domain.AuthorMetadata{
		{ID: 2, Name: "J.R.R. TOLKIEN"},
		{ID: 1, Name: "j.r.r. tolkien"},
		{ID: 3, Name: "Isaac Asimov"},
	}

	var pairs []Pair
	d.FindPairs(rows, func(p Pair) bool {
		pairs = append(pairs, p)
		return true
	})

	require.Len(t, pairs, 1)
	require.Equal(t, int64(1), pairs[0].A.ID, "lower id sorted first")
	require.Equal(t, int64(2), pairs[0].B.ID)
}

func TestDetector_FindPairs_AlternateNameCrossProduct(t *testing.T) {
	d := NewDetector(0.85)
	rows := []domain.AuthorMetadata{
		{ID: 1, Name: "Sam Clemens"},
		{ID: 2, Name: "Mark Twain", AlternateNames: []string{"Sam Clemens"}},
	}

	found := false
	d.FindPairs(rows, func(p Pair) bool {
		found = true
		return true
	})
	require.True(t, found, "alternate name exact match should surface a pair")
}

func TestDetector_FindPairs_BelowThresholdExcluded(t *testing.T) {
	d := NewDetector(0.95)
	rows := []domain.AuthorMetadata{
		{ID: 1, Name: "John Smith"},
		{ID: 2, Name: "Jon Smyth"},
	}

	var pairs []Pair
	d.FindPairs(rows, func(p Pair) bool {
		pairs = append(pairs, p)
		return true
	})
	require.Empty(t, pairs)
}

func TestDetector_FindPairs_StopsOnYieldFalse(t *testing.T) {
	d := NewDetector(0.5)
	rows := []domain.AuthorMetadata{
		{ID: 1, Name: "Alice Smith"},
		{ID: 2, Name: "Alice Smyth"},
		{ID: 3, Name: "Alice Smitt"},
	}

	count := 0
	d.FindPairs(rows, func(p Pair) bool {
		count++
		return false
	})
	require.Equal(t, 1, count, "yield returning false must stop further iteration")
}

func TestDefaultSimilarityThreshold_AppliedWhenZero(t *testing.T) {
	d := NewDetector(0)
	require.Equal(t, DefaultSimilarityThreshold, d.Threshold)
}
