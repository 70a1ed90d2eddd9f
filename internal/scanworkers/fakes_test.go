package scanworkers

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// fakeLibraryRepo is a hand-written domain.LibraryRepository backed by a
// single library, matching internal/scanpipeline's test-double style.
type fakeLibraryRepo struct {
	library domain.Library
}

func (f *fakeLibraryRepo) Get(_ domain.Context, id int64) (domain.Library, error) {
	if id != f.library.ID {
		return domain.Library{}, domain.ErrNotFound
	}
	return f.library, nil
}

func (f *fakeLibraryRepo) GetActive(_ domain.Context) (domain.Library, error) { return f.library, nil }

func (f *fakeLibraryRepo) List(_ domain.Context) ([]domain.Library, error) {
	return []domain.Library{f.library}, nil
}

func (f *fakeLibraryRepo) SetActive(_ domain.Context, _ int64) error { return nil }

// fakeCatalog is a hand-written domain.CalibreCatalog backed by an
// in-memory author list.
type fakeCatalog struct {
	authors []domain.CalibreAuthor
}

func (f *fakeCatalog) ListAuthors(_ domain.Context, _ domain.Library) ([]domain.CalibreAuthor, error) {
	return f.authors, nil
}

// fakeDataSource is a hand-written domain.DataSource returning canned
// responses keyed by external key.
type fakeDataSource struct {
	byKey        map[string]*domain.AuthorData
	works        map[string][]domain.WorkKey
	searchByName map[string][]domain.AuthorData
}

func newFakeDataSource() *fakeDataSource {
	return &fakeDataSource{
		byKey:        make(map[string]*domain.AuthorData),
		works:        make(map[string][]domain.WorkKey),
		searchByName: make(map[string][]domain.AuthorData),
	}
}

func (f *fakeDataSource) Name() string { return "fake" }

func (f *fakeDataSource) SearchAuthor(_ domain.Context, name string, _ *domain.IdentifierSet) ([]domain.AuthorData, error) {
	return f.searchByName[name], nil
}

func (f *fakeDataSource) GetAuthor(_ domain.Context, key string) (*domain.AuthorData, error) {
	data, ok := f.byKey[key]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return data, nil
}

func (f *fakeDataSource) GetAuthorWorks(_ domain.Context, key string, _ int, _ string) ([]domain.WorkKey, error) {
	return f.works[key], nil
}

func (f *fakeDataSource) SearchBook(_ domain.Context, _, _ string, _ []string) ([]domain.BookData, error) {
	return nil, nil
}

func (f *fakeDataSource) GetBook(_ domain.Context, _ string, _ bool) (*domain.BookData, error) {
	return nil, nil
}

// fakeGraphRepo is a hand-written in-memory domain.AuthorGraphRepository.
type fakeGraphRepo struct {
	mu           sync.Mutex
	nextMetaID   int64
	nextMapID    int64
	metadata     map[int64]domain.AuthorMetadata
	byExternal   map[string]int64
	mappings     map[int64]domain.AuthorMapping
	similarities []domain.AuthorSimilarity
}

func newFakeGraphRepo() *fakeGraphRepo {
	return &fakeGraphRepo{
		metadata:   make(map[int64]domain.AuthorMetadata),
		byExternal: make(map[string]int64),
		mappings:   make(map[int64]domain.AuthorMapping),
	}
}

func (f *fakeGraphRepo) CreateAuthorMetadata(_ domain.Context, a domain.AuthorMetadata) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMetaID++
	a.ID = f.nextMetaID
	f.metadata[a.ID] = a
	if a.ExternalKey != nil {
		f.byExternal[*a.ExternalKey] = a.ID
	}
	return a.ID, nil
}

func (f *fakeGraphRepo) GetAuthorMetadata(_ domain.Context, id int64) (domain.AuthorMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.metadata[id]
	if !ok {
		return domain.AuthorMetadata{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeGraphRepo) GetAuthorMetadataByExternalKey(_ domain.Context, externalKey string) (domain.AuthorMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byExternal[externalKey]
	if !ok {
		return domain.AuthorMetadata{}, domain.ErrNotFound
	}
	return f.metadata[id], nil
}

func (f *fakeGraphRepo) UpdateAuthorMetadata(_ domain.Context, a domain.AuthorMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.metadata[a.ID]; !ok {
		return domain.ErrNotFound
	}
	f.metadata[a.ID] = a
	if a.ExternalKey != nil {
		f.byExternal[*a.ExternalKey] = a.ID
	}
	return nil
}

func (f *fakeGraphRepo) DeleteAuthorMetadata(_ domain.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.metadata[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(f.metadata, id)
	if a.ExternalKey != nil {
		delete(f.byExternal, *a.ExternalKey)
	}
	return nil
}

func (f *fakeGraphRepo) ListAuthorMetadataByLibrary(_ domain.Context, libraryID int64) ([]domain.AuthorMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	linked := make(map[int64]bool)
	for _, m := range f.mappings {
		if m.LibraryID == libraryID {
			linked[m.AuthorMetadataID] = true
		}
	}
	var out []domain.AuthorMetadata
	for id := range linked {
		out = append(out, f.metadata[id])
	}
	return out, nil
}

func (f *fakeGraphRepo) FindMappingByCalibreAuthorAndLibrary(_ domain.Context, calibreAuthorID, libraryID int64) (domain.AuthorMapping, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.CalibreAuthorID == calibreAuthorID && m.LibraryID == libraryID {
			return m, true, nil
		}
	}
	return domain.AuthorMapping{}, false, nil
}

func (f *fakeGraphRepo) CreateMapping(_ domain.Context, m domain.AuthorMapping) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMapID++
	m.ID = f.nextMapID
	f.mappings[m.ID] = m
	return m.ID, nil
}

func (f *fakeGraphRepo) UpdateMapping(_ domain.Context, m domain.AuthorMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mappings[m.ID]; !ok {
		return domain.ErrNotFound
	}
	f.mappings[m.ID] = m
	return nil
}

func (f *fakeGraphRepo) ListMappingsByMetadataID(_ domain.Context, metadataID int64) ([]domain.AuthorMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuthorMapping
	for _, m := range f.mappings {
		if m.AuthorMetadataID == metadataID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeGraphRepo) RepointMappings(_ domain.Context, fromMetadataID, toMetadataID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.mappings {
		if m.AuthorMetadataID == fromMetadataID {
			m.AuthorMetadataID = toMetadataID
			f.mappings[id] = m
		}
	}
	return nil
}

func (f *fakeGraphRepo) ListSimilaritiesByAuthor(_ domain.Context, authorID int64) ([]domain.AuthorSimilarity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuthorSimilarity
	for _, s := range f.similarities {
		if s.Author1ID == authorID || s.Author2ID == authorID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeGraphRepo) UpsertSimilarity(_ domain.Context, s domain.AuthorSimilarity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.similarities {
		if (existing.Author1ID == s.Author1ID && existing.Author2ID == s.Author2ID) ||
			(existing.Author1ID == s.Author2ID && existing.Author2ID == s.Author1ID) {
			f.similarities[i].Score = s.Score
			return nil
		}
	}
	f.similarities = append(f.similarities, s)
	return nil
}

func (f *fakeGraphRepo) RepointSimilarities(_ domain.Context, fromAuthorID, toAuthorID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.similarities[:0]
	for _, s := range f.similarities {
		if s.Author1ID == fromAuthorID {
			s.Author1ID = toAuthorID
		}
		if s.Author2ID == fromAuthorID {
			s.Author2ID = toAuthorID
		}
		if s.Author1ID == s.Author2ID {
			continue
		}
		kept = append(kept, s)
	}
	f.similarities = kept
	return nil
}

// fakeTaskRepo is a hand-written in-memory domain.TaskRepository tracking
// only what CompletionWorker needs to assert against.
type fakeTaskRepo struct {
	mu        sync.Mutex
	completed map[int64]bool
	cancelled map[int64]bool
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{completed: make(map[int64]bool), cancelled: make(map[int64]bool)}
}

func (f *fakeTaskRepo) CreateTask(_ domain.Context, _ domain.TaskType, _ int64, _ map[string]any) (domain.Task, error) {
	return domain.Task{}, nil
}

func (f *fakeTaskRepo) Get(_ domain.Context, id int64) (domain.Task, error) {
	return domain.Task{ID: id}, nil
}

func (f *fakeTaskRepo) ListTasks(_ domain.Context, _ domain.TaskFilter, _, _ int) ([]domain.Task, error) {
	return nil, nil
}

func (f *fakeTaskRepo) StartTask(_ domain.Context, _ int64) error { return nil }

func (f *fakeTaskRepo) UpdateProgress(_ domain.Context, _ int64, _ float64, _ map[string]any) error {
	return nil
}

func (f *fakeTaskRepo) CompleteTask(_ domain.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}

func (f *fakeTaskRepo) FailTask(_ domain.Context, _ int64, _ string) error { return nil }

func (f *fakeTaskRepo) CancelTask(_ domain.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	already := f.cancelled[id]
	f.cancelled[id] = true
	return !already, nil
}

func (f *fakeTaskRepo) GetStatistics(_ domain.Context, _ *domain.TaskType) ([]domain.TaskStatistics, error) {
	return nil, nil
}

func (f *fakeTaskRepo) isCompleted(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[id]
}

// fakeProgressTracker is a hand-written in-memory domain.ProgressTracker,
// behaviorally identical to RedisProgressTracker's INCR/SETNX scheme.
type fakeProgressTracker struct {
	mu            sync.Mutex
	total         map[int64]int64
	processed     map[int64]int64
	taskID        map[int64]int64
	stageStarted  map[string]bool
	cancelledTask map[int64]bool
}

func newFakeProgressTracker() *fakeProgressTracker {
	return &fakeProgressTracker{
		total:         make(map[int64]int64),
		processed:     make(map[int64]int64),
		taskID:        make(map[int64]int64),
		stageStarted:  make(map[string]bool),
		cancelledTask: make(map[int64]bool),
	}
}

func (t *fakeProgressTracker) InitializeJob(_ domain.Context, libraryID int64, total int64, taskID *int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total[libraryID] = total
	t.processed[libraryID] = 0
	if taskID != nil {
		t.taskID[libraryID] = *taskID
	}
	return nil
}

func (t *fakeProgressTracker) MarkItemProcessed(_ domain.Context, libraryID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed[libraryID]++
	if t.processed[libraryID] >= t.total[libraryID] {
		delete(t.total, libraryID)
		delete(t.processed, libraryID)
		delete(t.taskID, libraryID)
		return true, nil
	}
	return false, nil
}

func (t *fakeProgressTracker) MarkStageStarted(_ domain.Context, libraryID int64, stage string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stageKey(libraryID, stage)
	if t.stageStarted[key] {
		return false, nil
	}
	t.stageStarted[key] = true
	return true, nil
}

func (t *fakeProgressTracker) GetTaskID(_ domain.Context, libraryID int64) (*int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.taskID[libraryID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (t *fakeProgressTracker) IsCancelled(_ domain.Context, taskID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelledTask[taskID], nil
}

func (t *fakeProgressTracker) SetCancelled(_ domain.Context, taskID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelledTask[taskID] = true
	return nil
}

func (t *fakeProgressTracker) ClearJob(_ domain.Context, libraryID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.total, libraryID)
	delete(t.processed, libraryID)
	delete(t.taskID, libraryID)
	return nil
}

func stageKey(libraryID int64, stage string) string {
	return fmt.Sprintf("%d:%s", libraryID, stage)
}
