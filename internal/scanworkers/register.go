package scanworkers

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/dedupe"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

// Dependencies bundles every collaborator the seven scan workers need so
// that wiring all of them is a single call (§4.8, §9 "avoid a global
// service locator" — this is an explicit value passed by the caller, not
// package-level state).
type Dependencies struct {
	Libraries    domain.LibraryRepository
	Catalog      domain.CalibreCatalog
	Sources      *domain.DataSourceRegistry
	Orchestrator *matching.Orchestrator
	Graph        domain.AuthorGraphRepository
	Tasks        domain.TaskRepository
	Broker       domain.Broker
	Tracker      domain.ProgressTracker

	// DuplicateSimilarityThreshold configures the Deduplicate worker's
	// detector (§4.9, default 0.85 when zero).
	DuplicateSimilarityThreshold float64
	// ScoreStaleMaxAgeDays / ScoreStaleRefreshIntervalDays gate the Score
	// worker's recompute decision (§4.7 staleness semantics).
	ScoreStaleMaxAgeDays          *int
	ScoreStaleRefreshIntervalDays *int

	// Concurrency is the per-topic consumer count (§4.2 "configurable
	// worker count per topic for parallelism"); zero means the broker's
	// own default of 1.
	Concurrency int
}

// RegisterAll subscribes every one of the seven scan workers onto their
// respective broker topics (§4.8, §6 topic list). Callers still need to
// call Broker.Start to actually spawn the consumer goroutines.
func RegisterAll(deps Dependencies) {
	concurrency := deps.Concurrency

	crawl := CrawlWorker{Libraries: deps.Libraries, Catalog: deps.Catalog, Broker: deps.Broker, Tracker: deps.Tracker}
	deps.Broker.Subscribe(domain.TopicScanJobs, concurrency, crawl.Handle)

	match := MatchWorker{Sources: deps.Sources, Orchestrator: deps.Orchestrator, Repo: deps.Graph, Broker: deps.Broker, Tracker: deps.Tracker}
	deps.Broker.Subscribe(domain.TopicMatchQueue, concurrency, match.Handle)

	ingest := IngestWorker{Sources: deps.Sources, Repo: deps.Graph, Broker: deps.Broker, Tracker: deps.Tracker}
	deps.Broker.Subscribe(domain.TopicIngestQueue, concurrency, ingest.Handle)

	link := LinkWorker{Repo: deps.Graph, Broker: deps.Broker, Tracker: deps.Tracker}
	deps.Broker.Subscribe(domain.TopicLinkQueue, concurrency, link.Handle)

	dedup := DeduplicateWorker{
		Repo:     deps.Graph,
		Detector: dedupe.NewDetector(deps.DuplicateSimilarityThreshold),
		Merger:   dedupe.NewMerger(deps.Graph),
		Broker:   deps.Broker,
	}
	deps.Broker.Subscribe(domain.TopicDeduplicateJobs, concurrency, dedup.Handle)

	score := ScoreWorker{
		Repo:                     deps.Graph,
		Broker:                   deps.Broker,
		StaleMaxAgeDays:          deps.ScoreStaleMaxAgeDays,
		StaleRefreshIntervalDays: deps.ScoreStaleRefreshIntervalDays,
	}
	deps.Broker.Subscribe(domain.TopicScoreJobs, concurrency, score.Handle)

	completion := CompletionWorker{Tasks: deps.Tasks, Tracker: deps.Tracker}
	deps.Broker.Subscribe(domain.TopicCompletionJobs, concurrency, completion.Handle)
}
