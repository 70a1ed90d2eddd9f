package scanpipeline

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var crawlTracer = otel.Tracer("scanpipeline.crawl")

// CrawlStage enumerates authors from the Calibre catalog into
// ScanContext.CrawledAuthors (§4.7 step 1).
type CrawlStage struct {
	Catalog domain.CalibreCatalog
}

func (s CrawlStage) Name() string { return "crawl" }

func (s CrawlStage) Execute(ctx domain.Context, sc *ScanContext) (StageResult, error) {
	ctx, span := crawlTracer.Start(ctx, "CrawlStage.Execute")
	defer span.End()

	authors, err := s.Catalog.ListAuthors(ctx, sc.Library)
	if err != nil {
		return StageResult{}, fmt.Errorf("op=CrawlStage.Execute: %w", err)
	}
	sc.CrawledAuthors = authors
	sc.reportStage(0, s.Name(), "completed", len(authors), len(authors), nil)

	return StageResult{
		Success: true,
		Message: fmt.Sprintf("crawled %d authors", len(authors)),
		Stats:   map[string]any{"author_count": len(authors)},
	}, nil
}
