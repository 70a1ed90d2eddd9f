package scanpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

func TestPipeline_RunScanEndToEnd(t *testing.T) {
	libraries := &fakeLibraryRepo{library: domain.Library{ID: 1, IsActive: true}}
	catalog := &fakeCatalog{authors: []domain.CalibreAuthor{{ID: 1, Name: "Ada Lovelace"}}}
	source := newFakeDataSource()
	source.searchByName["Ada Lovelace"] = []domain.AuthorData{{Key: "OL1A", Name: "Ada Lovelace"}}
	source.byKey["OL1A"] = &domain.AuthorData{Key: "OL1A", Name: "Ada Lovelace"}
	source.works["OL1A"] = []domain.WorkKey{{Key: "OLW1", Title: "Notes"}}
	graph := newFakeGraphRepo()
	orchestrator := matching.NewOrchestrator(0, 0)

	pipeline := NewPipeline(libraries, source, catalog, graph, orchestrator, Options{})

	var progressCalls int
	err := pipeline.RunScan(t.Context(), 1, func(float64, map[string]any) { progressCalls++ })

	require.NoError(t, err)
	assert.Greater(t, progressCalls, 0)

	mapping, ok, err := graph.FindMappingByCalibreAuthorAndLibrary(t.Context(), 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MatchExact, mapping.MatchedBy)
}

func TestPipeline_RunScanFailsOnUnknownLibrary(t *testing.T) {
	libraries := &fakeLibraryRepo{library: domain.Library{ID: 1}}
	pipeline := NewPipeline(libraries, newFakeDataSource(), &fakeCatalog{}, newFakeGraphRepo(), matching.NewOrchestrator(0, 0), Options{})

	err := pipeline.RunScan(t.Context(), 99, func(float64, map[string]any) {})

	assert.Error(t, err)
}
