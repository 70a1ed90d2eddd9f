package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

type fakeGraphRepo struct {
	mappings map[int64]domain.AuthorMapping
	metaByID map[int64]domain.AuthorMetadata
	metaByKy map[string]domain.AuthorMetadata
	nextID   int64
	created  []domain.AuthorMetadata
	mapped   []domain.AuthorMapping
}

func newFakeGraphRepo() *fakeGraphRepo {
	return &fakeGraphRepo{
		mappings: map[int64]domain.AuthorMapping{},
		metaByID: map[int64]domain.AuthorMetadata{},
		metaByKy: map[string]domain.AuthorMetadata{},
	}
}

func (f *fakeGraphRepo) CreateAuthorMetadata(_ domain.Context, a domain.AuthorMetadata) (int64, error) {
	f.nextID++
	a.ID = f.nextID
	f.metaByID[a.ID] = a
	if a.ExternalKey != nil {
		f.metaByKy[*a.ExternalKey] = a
	}
	f.created = append(f.created, a)
	return a.ID, nil
}
func (f *fakeGraphRepo) GetAuthorMetadata(_ domain.Context, id int64) (domain.AuthorMetadata, error) {
	if a, ok := f.metaByID[id]; ok {
		return a, nil
	}
	return domain.AuthorMetadata{}, domain.ErrNotFound
}
func (f *fakeGraphRepo) GetAuthorMetadataByExternalKey(_ domain.Context, key string) (domain.AuthorMetadata, error) {
	if a, ok := f.metaByKy[key]; ok {
		return a, nil
	}
	return domain.AuthorMetadata{}, domain.ErrNotFound
}
func (f *fakeGraphRepo) UpdateAuthorMetadata(_ domain.Context, a domain.AuthorMetadata) error {
	f.metaByID[a.ID] = a
	return nil
}
func (f *fakeGraphRepo) DeleteAuthorMetadata(_ domain.Context, id int64) error {
	delete(f.metaByID, id)
	return nil
}
func (f *fakeGraphRepo) ListAuthorMetadataByLibrary(domain.Context, int64) ([]domain.AuthorMetadata, error) {
	return nil, nil
}
func (f *fakeGraphRepo) FindMappingByCalibreAuthorAndLibrary(_ domain.Context, calibreAuthorID, libraryID int64) (domain.AuthorMapping, bool, error) {
	m, ok := f.mappings[calibreAuthorID]
	return m, ok, nil
}
func (f *fakeGraphRepo) CreateMapping(_ domain.Context, m domain.AuthorMapping) (int64, error) {
	m.ID = int64(len(f.mapped) + 1)
	f.mappings[m.CalibreAuthorID] = m
	f.mapped = append(f.mapped, m)
	return m.ID, nil
}
func (f *fakeGraphRepo) UpdateMapping(_ domain.Context, m domain.AuthorMapping) error {
	f.mappings[m.CalibreAuthorID] = m
	return nil
}
func (f *fakeGraphRepo) ListMappingsByMetadataID(domain.Context, int64) ([]domain.AuthorMapping, error) {
	return nil, nil
}
func (f *fakeGraphRepo) RepointMappings(domain.Context, int64, int64) error { return nil }
func (f *fakeGraphRepo) ListSimilaritiesByAuthor(domain.Context, int64) ([]domain.AuthorSimilarity, error) {
	return nil, nil
}
func (f *fakeGraphRepo) UpsertSimilarity(domain.Context, domain.AuthorSimilarity) error { return nil }
func (f *fakeGraphRepo) RepointSimilarities(domain.Context, int64, int64) error         { return nil }

func TestOrchestrator_Match_FallsThroughToFuzzy(t *testing.T) {
	o := NewOrchestrator(0.5, 0.7)
	source := &fakeSource{candidates: []domain.AuthorData{{Key: "k1", Name: "Jane Austin"}}}
	author := domain.CalibreAuthor{ID: 1, Name: "Jane Austen"}

	result, err := o.Match(t.Context(), author, source)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, domain.MatchFuzzy, result.MatchedBy)
}

func TestOrchestrator_Match_NoStrategyMeetsConfidence(t *testing.T) {
	o := NewOrchestrator(0.99, 0.99)
	source := &fakeSource{candidates: []domain.AuthorData{{Key: "k1", Name: "Completely Different"}}}
	author := domain.CalibreAuthor{ID: 1, Name: "Jane Austen"}

	result, err := o.Match(t.Context(), author, source)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestOrchestrator_Match_SkipsNetworkErrorStrategies(t *testing.T) {
	o := NewOrchestrator(0.5, 0.7)
	source := &fakeSource{err: domain.ErrSourceNetwork}
	author := domain.CalibreAuthor{ID: 1, Name: "Jane Austen"}

	result, err := o.Match(t.Context(), author, source)
	require.NoError(t, err, "network errors from every strategy must not fail the match")
	require.Nil(t, result)
}

func TestProcessMatchRequest_UnmatchedCreatesPlaceholder(t *testing.T) {
	o := NewOrchestrator(0.99, 0.99)
	repo := newFakeGraphRepo()
	source := &fakeSource{}
	author := domain.CalibreAuthor{ID: 10, Name: "Unknown Author"}

	result, err := ProcessMatchRequest(t.Context(), o, repo, author, 1, source, ProcessOptions{})
	require.NoError(t, err)
	require.Nil(t, result)

	mapping, ok := repo.mappings[10]
	require.True(t, ok)
	require.Equal(t, domain.MatchUnmatched, mapping.MatchedBy)
	require.Len(t, repo.created, 1)
	require.Nil(t, repo.created[0].ExternalKey)
}

func TestProcessMatchRequest_SkipGate_AlreadyMatchedWithoutForce(t *testing.T) {
	o := NewOrchestrator(0.5, 0.7)
	repo := newFakeGraphRepo()
	key := "existing-key"
	metaID, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{Name: "Existing", ExternalKey: &key})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{
		CalibreAuthorID:  10,
		AuthorMetadataID: metaID,
		MatchedBy:        domain.MatchExact,
	})

	source := &fakeSource{candidates: []domain.AuthorData{{Key: "k1", Name: "Someone Else"}}}
	author := domain.CalibreAuthor{ID: 10, Name: "Existing"}

	result, err := ProcessMatchRequest(t.Context(), o, repo, author, 1, source, ProcessOptions{})
	require.NoError(t, err)
	require.Nil(t, result, "already-matched mapping should be skipped without Force")
}

func TestProcessMatchRequest_StalenessGate_RecentSyncSkipped(t *testing.T) {
	o := NewOrchestrator(0.5, 0.7)
	repo := newFakeGraphRepo()
	key := "existing-key"
	now := time.Now()
	metaID, _ := repo.CreateAuthorMetadata(t.Context(), domain.AuthorMetadata{Name: "Existing", ExternalKey: &key, LastSyncedAt: &now})
	_, _ = repo.CreateMapping(t.Context(), domain.AuthorMapping{
		CalibreAuthorID:  10,
		AuthorMetadataID: metaID,
		MatchedBy:        domain.MatchExact,
	})

	source := &fakeSource{}
	author := domain.CalibreAuthor{ID: 10, Name: "Existing"}
	staleMaxAge := 30

	result, err := ProcessMatchRequest(t.Context(), o, repo, author, 1, source, ProcessOptions{Force: true, StaleMaxAgeDays: &staleMaxAge})
	require.NoError(t, err)
	require.Nil(t, result, "recently synced row should be skipped by the staleness gate even with Force")
}

func TestProcessMatchRequest_ForceDirectKey(t *testing.T) {
	o := NewOrchestrator(0.5, 0.7)
	repo := newFakeGraphRepo()
	source := &fakeSource{candidates: []domain.AuthorData{{Key: "OL123A", Name: "Direct Hit"}}}
	author := domain.CalibreAuthor{ID: 20, Name: "Whoever"}
	key := "OL123A"

	result, err := ProcessMatchRequest(t.Context(), o, repo, author, 1, source, ProcessOptions{Force: true, Key: &key})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, domain.MatchDirectKey, result.MatchedBy)
	require.Equal(t, 1.0, result.Confidence)

	mapping, ok := repo.mappings[20]
	require.True(t, ok)
	require.Equal(t, domain.MatchDirectKey, mapping.MatchedBy)
}
