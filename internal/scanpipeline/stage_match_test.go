package scanpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

func TestMatchStage_SplitsMatchedAndUnmatched(t *testing.T) {
	source := newFakeDataSource()
	source.searchByName["Ada Lovelace"] = []domain.AuthorData{{Key: "OL1A", Name: "Ada Lovelace"}}

	sc := NewScanContext(1, domain.Library{ID: 1}, source, nil, nil)
	sc.CrawledAuthors = []domain.CalibreAuthor{
		{ID: 1, Name: "Ada Lovelace"},
		{ID: 2, Name: "Nobody Findable"},
	}

	stage := MatchStage{Orchestrator: matching.NewOrchestrator(0, 0), Repo: newFakeGraphRepo()}
	result, err := stage.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, sc.MatchResults, 1)
	assert.Equal(t, "OL1A", sc.MatchResults[0].Result.Author.Key)
	require.Len(t, sc.UnmatchedAuthors, 1)
	assert.Equal(t, int64(2), sc.UnmatchedAuthors[0].ID)
}

func TestMatchStage_StopsWhenCancelled(t *testing.T) {
	source := newFakeDataSource()
	sc := NewScanContext(1, domain.Library{ID: 1}, source, nil, func() bool { return true })
	sc.CrawledAuthors = []domain.CalibreAuthor{{ID: 1, Name: "Ada Lovelace"}}

	stage := MatchStage{Orchestrator: matching.NewOrchestrator(0, 0), Repo: newFakeGraphRepo()}
	_, err := stage.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.Empty(t, sc.MatchResults)
	assert.Empty(t, sc.UnmatchedAuthors)
}
