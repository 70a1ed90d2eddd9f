package scanpipeline

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var completionTracer = otel.Tracer("scanpipeline.completion")

// CompletionStage reports the final progress summary for the scan
// (§4.7 step 7). The actual task-row transition to COMPLETED/FAILED is
// applied by the task runtime backend once Pipeline.RunScan returns,
// keeping that decision in one place regardless of which handler invoked
// the pipeline.
type CompletionStage struct{}

func (s CompletionStage) Name() string { return "completion" }

func (s CompletionStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	_, span := completionTracer.Start(ctx, "CompletionStage.Execute")
	defer span.End()

	summary := fmt.Sprintf("scan complete: %d crawled, %d matched, %d unmatched",
		len(sc.CrawledAuthors), len(sc.MatchResults), len(sc.UnmatchedAuthors))
	sc.reportStage(1.0, s.Name(), "completed", len(sc.CrawledAuthors), len(sc.CrawledAuthors), map[string]any{"summary": summary})

	return StageResult{Success: true, Message: summary}, nil
}
