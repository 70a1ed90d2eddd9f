package scanworkers

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/broker"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

func newTestDependencies(t *testing.T, mb *broker.MemoryBroker, sources *domain.DataSourceRegistry, libRepo *fakeLibraryRepo, catalog *fakeCatalog, graph *fakeGraphRepo, tasks *fakeTaskRepo, tracker domain.ProgressTracker) Dependencies {
	t.Helper()
	return Dependencies{
		Libraries:                    libRepo,
		Catalog:                      catalog,
		Sources:                      sources,
		Orchestrator:                 matching.NewOrchestrator(0.5, 0.8),
		Graph:                        graph,
		Tasks:                        tasks,
		Broker:                       mb,
		Tracker:                      tracker,
		DuplicateSimilarityThreshold: 0.85,
	}
}

// TestCascade_HappyPath drives a two-author library through every broker
// topic (scan_jobs -> match_queue -> ingest_queue -> link_queue ->
// score_jobs -> completion_jobs) and asserts the task reaches COMPLETED
// once every author has been processed (§8: sum over stages of processed
// messages equals the total_items a job started with).
func TestCascade_HappyPath(t *testing.T) {
	library := domain.Library{ID: 1, CalibreDBPath: "/calibre", DBFile: "metadata.db"}
	authors := []domain.CalibreAuthor{
		{ID: 10, Name: "Ann Leckie"},
		{ID: 11, Name: "Ursula K. Le Guin"},
	}

	source := newFakeDataSource()
	source.byKey["OL1A"] = &domain.AuthorData{Key: "OL1A", Name: "Ann Leckie"}
	source.byKey["OL2A"] = &domain.AuthorData{Key: "OL2A", Name: "Ursula K. Le Guin"}
	source.works["OL1A"] = []domain.WorkKey{{Key: "OL1W", Title: "Ancillary Justice"}}
	source.works["OL2A"] = []domain.WorkKey{{Key: "OL2W", Title: "The Left Hand of Darkness"}}
	// ExactStrategy matches a CalibreAuthor's name against SearchAuthor
	// results for that same name (§4.4).
	source.searchByName["Ann Leckie"] = []domain.AuthorData{*source.byKey["OL1A"]}
	source.searchByName["Ursula K. Le Guin"] = []domain.AuthorData{*source.byKey["OL2A"]}

	sources := domain.NewDataSourceRegistry()
	sources.Register("fake", func(map[string]any) (domain.DataSource, error) { return source, nil })

	libRepo := &fakeLibraryRepo{library: library}
	catalog := &fakeCatalog{authors: authors}
	graph := newFakeGraphRepo()
	tasks := newFakeTaskRepo()
	tracker := newFakeProgressTracker()

	mb := broker.NewMemoryBroker()
	deps := newTestDependencies(t, mb, sources, libRepo, catalog, graph, tasks, tracker)
	RegisterAll(deps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mb.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	taskID := int64(42)
	if err := mb.Publish(ctx, domain.TopicScanJobs, map[string]any{
		fieldTaskID:    taskID,
		fieldLibraryID: library.ID,
		fieldDataSourceConfig: map[string]any{
			"name":   "fake",
			"kwargs": map[string]any{},
		},
	}); err != nil {
		t.Fatalf("Publish scan job: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !tasks.isCompleted(taskID) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if !tasks.isCompleted(taskID) {
		t.Fatalf("task %d never reached COMPLETED", taskID)
	}

	if got := len(graph.metadata); got == 0 {
		t.Fatalf("expected author metadata to be ingested, got none")
	}
}

// TestCascade_NoAuthors exercises the zero-authors short-circuit: Crawl
// hands off straight to score_jobs -> completion_jobs without ever
// initializing the progress counter.
func TestCascade_NoAuthors(t *testing.T) {
	library := domain.Library{ID: 2, CalibreDBPath: "/calibre", DBFile: "metadata.db"}

	sources := domain.NewDataSourceRegistry()
	libRepo := &fakeLibraryRepo{library: library}
	catalog := &fakeCatalog{}
	graph := newFakeGraphRepo()
	tasks := newFakeTaskRepo()
	tracker := newFakeProgressTracker()

	mb := broker.NewMemoryBroker()
	deps := newTestDependencies(t, mb, sources, libRepo, catalog, graph, tasks, tracker)
	RegisterAll(deps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mb.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	taskID := int64(7)
	if err := mb.Publish(ctx, domain.TopicScanJobs, map[string]any{
		fieldTaskID:    taskID,
		fieldLibraryID: library.ID,
	}); err != nil {
		t.Fatalf("Publish scan job: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !tasks.isCompleted(taskID) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if !tasks.isCompleted(taskID) {
		t.Fatalf("task %d never reached COMPLETED", taskID)
	}
}
