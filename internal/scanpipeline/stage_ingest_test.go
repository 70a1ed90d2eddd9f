package scanpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

func TestIngestStage_RefetchesUniqueExternalKeysOnce(t *testing.T) {
	source := newFakeDataSource()
	source.byKey["OL1A"] = &domain.AuthorData{Key: "OL1A", Name: "Ada Lovelace"}
	source.works["OL1A"] = []domain.WorkKey{{Key: "OLW1", Title: "Notes on the Analytical Engine"}}

	sc := NewScanContext(1, domain.Library{ID: 1}, source, nil, nil)
	result := matching.MatchResult{Author: domain.AuthorData{Key: "OL1A", Name: "Ada Lovelace"}, Confidence: 0.9, MatchedBy: domain.MatchExact}
	sc.MatchResults = []MatchEntry{
		{Author: domain.CalibreAuthor{ID: 1}, Result: &result},
		{Author: domain.CalibreAuthor{ID: 2}, Result: &result}, // duplicate external key
	}

	repo := newFakeGraphRepo()
	stageResult, err := IngestStage{Repo: repo}.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.True(t, stageResult.Success)
	assert.Equal(t, 1, stageResult.Stats["total"])
	assert.Equal(t, 1, stageResult.Stats["refreshed"])

	stored, err := repo.GetAuthorMetadataByExternalKey(t.Context(), "OL1A")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.Name)
	require.Len(t, stored.Works, 1)
}

func TestIngestStage_ContinuesAfterPerAuthorFetchFailure(t *testing.T) {
	source := newFakeDataSource() // byKey empty: GetAuthor returns ErrSourceNotFound
	sc := NewScanContext(1, domain.Library{ID: 1}, source, nil, nil)
	result := matching.MatchResult{Author: domain.AuthorData{Key: "OLMISSING", Name: "Ghost"}, Confidence: 0.9}
	sc.MatchResults = []MatchEntry{{Author: domain.CalibreAuthor{ID: 1}, Result: &result}}

	stageResult, err := IngestStage{Repo: newFakeGraphRepo()}.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.Equal(t, 1, stageResult.Stats["failed"])
}
