package scanpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestScoreStage_ComputesSimilarityForSharedSubjects(t *testing.T) {
	repo := newFakeGraphRepo()
	id1, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{
		Name:  "Ada Lovelace",
		Works: []domain.AuthorWork{{WorkKey: "W1", Subjects: []string{"mathematics", "computing"}}},
	})
	id2, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{
		Name:  "Charles Babbage",
		Works: []domain.AuthorWork{{WorkKey: "W2", Subjects: []string{"mathematics", "engineering"}}},
	})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 1, AuthorMetadataID: id1})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 2, AuthorMetadataID: id2})

	sc := NewScanContext(1, domain.Library{ID: 1}, nil, nil, nil)
	result, err := ScoreStage{Repo: repo}.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats["computed"])

	sims, err := repo.ListSimilaritiesByAuthor(t.Context(), id1)
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.InDelta(t, 0.2, sims[0].Score, 0.0001)
}

func TestScoreStage_SkipsUnrelatedAuthors(t *testing.T) {
	repo := newFakeGraphRepo()
	id1, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{Name: "Ada Lovelace"})
	id2, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{Name: "Herman Melville"})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 1, AuthorMetadataID: id1})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 2, AuthorMetadataID: id2})

	sc := NewScanContext(1, domain.Library{ID: 1}, nil, nil, nil)
	result, err := ScoreStage{Repo: repo}.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Stats["computed"])
}
