package scanpipeline

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/dedupe"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

var pipelineTracer = otel.Tracer("scanpipeline.pipeline")

// Options configures a single run of the pipeline; zero values fall back to
// ScanContext's own defaults (§4.7, §4.4 staleness semantics).
type Options struct {
	ForceRematch             bool
	StaleMaxAgeDays          *int
	StaleRefreshIntervalDays *int
	MaxWorksPerAuthor        int
}

// Pipeline wires the seven scan stages in order and satisfies
// taskruntime.LibraryScanRunner for the in-process thread backend.
type Pipeline struct {
	Libraries    domain.LibraryRepository
	DataSource   domain.DataSource
	Catalog      domain.CalibreCatalog
	Graph        domain.AuthorGraphRepository
	Orchestrator *matching.Orchestrator

	Options Options

	stages []Stage
}

// NewPipeline builds a Pipeline with the seven stages assembled in their
// fixed §4.7 order.
func NewPipeline(libraries domain.LibraryRepository, dataSource domain.DataSource, catalog domain.CalibreCatalog, graph domain.AuthorGraphRepository, orchestrator *matching.Orchestrator, opts Options) *Pipeline {
	p := &Pipeline{Libraries: libraries, DataSource: dataSource, Catalog: catalog, Graph: graph, Orchestrator: orchestrator, Options: opts}
	p.stages = []Stage{
		CrawlStage{Catalog: catalog},
		MatchStage{Orchestrator: orchestrator, Repo: graph},
		IngestStage{Repo: graph},
		LinkStage{Repo: graph},
		DeduplicateStage{Repo: graph, Detector: dedupe.NewDetector(dedupe.DefaultSimilarityThreshold), Merger: dedupe.NewMerger(graph)},
		ScoreStage{Repo: graph},
		CompletionStage{},
	}
	return p
}

// RunScan drives every stage in sequence against a fresh ScanContext for
// libraryID, reporting overall progress as stageIndex/len(stages) plus each
// stage's own fractional progress scaled by 1/len(stages) (§4.5, §4.7).
// Cancellation of ctx is observed per item inside each stage (through
// ScanContext.Cancelled()) and before each stage starts, where RunScan
// returns domain.ErrCancelled so the task runtime marks the task CANCELLED.
// A stage returning a hard error aborts the remaining stages and is
// surfaced to the caller, so the task runtime marks the triggering task
// FAILED (§4.7 step 7).
func (p *Pipeline) RunScan(ctx domain.Context, libraryID int64, progress domain.ProgressFunc) error {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.RunScan")
	defer span.End()

	library, err := p.Libraries.Get(ctx, libraryID)
	if err != nil {
		return fmt.Errorf("op=RunScan: %w", err)
	}

	sc := NewScanContext(libraryID, library, p.DataSource, progress, func() bool { return ctx.Err() != nil })
	sc.ForceRematch = p.Options.ForceRematch
	sc.StaleMaxAgeDays = p.Options.StaleMaxAgeDays
	sc.StaleRefreshIntervalDays = p.Options.StaleRefreshIntervalDays
	sc.MaxWorksPerAuthor = p.Options.MaxWorksPerAuthor

	for i, stage := range p.stages {
		if sc.Cancelled() {
			return fmt.Errorf("op=RunScan: stage %s: %w", stage.Name(), domain.ErrCancelled)
		}
		stageBase := float64(i)
		sc.ProgressCallback = func(stageProgress float64, meta map[string]any) {
			progress((stageBase+stageProgress)/float64(len(p.stages)), meta)
		}
		result, err := stage.Execute(ctx, sc)
		if err != nil {
			slog.ErrorContext(ctx, "scan pipeline stage failed", slog.String("stage", stage.Name()), slog.Any("error", err))
			return fmt.Errorf("op=RunScan: stage %s: %w", stage.Name(), err)
		}
		slog.InfoContext(ctx, "scan pipeline stage completed", slog.String("stage", stage.Name()), slog.Bool("success", result.Success), slog.String("message", result.Message))
		progress(float64(i+1)/float64(len(p.stages)), map[string]any{"completed_stage": stage.Name(), "stats": result.Stats})
	}

	return nil
}
