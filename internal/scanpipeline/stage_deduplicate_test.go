package scanpipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/dedupe"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestDeduplicateStage_MergesNearIdenticalNames(t *testing.T) {
	repo := newFakeGraphRepo()
	now := time.Now()

	keepID, err := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{
		Name: "Ada Lovelace", WorkCount: 10, LastSyncedAt: &now,
	})
	require.NoError(t, err)
	mergeID, err := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{
		Name: "Ada Lovelac", WorkCount: 1,
	})
	require.NoError(t, err)

	_, err = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 1, AuthorMetadataID: keepID})
	require.NoError(t, err)
	_, err = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 2, AuthorMetadataID: mergeID})
	require.NoError(t, err)

	sc := NewScanContext(1, domain.Library{ID: 1}, nil, nil, nil)
	stage := DeduplicateStage{Repo: repo, Detector: dedupe.NewDetector(0), Merger: dedupe.NewMerger(repo)}

	result, err := stage.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats["merged"])

	_, err = repo.GetAuthorMetadata(t.Context(), mergeID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	kept, err := repo.GetAuthorMetadata(t.Context(), keepID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", kept.Name)
}

func TestDeduplicateStage_LeavesDissimilarNamesAlone(t *testing.T) {
	repo := newFakeGraphRepo()
	id1, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{Name: "Ada Lovelace"})
	id2, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{Name: "Herman Melville"})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 1, AuthorMetadataID: id1})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{LibraryID: 1, CalibreAuthorID: 2, AuthorMetadataID: id2})

	sc := NewScanContext(1, domain.Library{ID: 1}, nil, nil, nil)
	stage := DeduplicateStage{Repo: repo, Detector: dedupe.NewDetector(0), Merger: dedupe.NewMerger(repo)}

	result, err := stage.Execute(t.Context(), sc)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Stats["merged"])
}
