package scanpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestCompletionStage_SummarizesCounts(t *testing.T) {
	sc := NewScanContext(1, domain.Library{ID: 1}, nil, nil, nil)
	sc.CrawledAuthors = []domain.CalibreAuthor{{ID: 1}, {ID: 2}}
	sc.UnmatchedAuthors = []domain.CalibreAuthor{{ID: 2}}

	result, err := CompletionStage{}.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "2 crawled")
	assert.Contains(t, result.Message, "1 unmatched")
}
