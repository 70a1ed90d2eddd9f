// Package scanpipeline implements the C7 monolithic scan pipeline (§4.7):
// seven stages sharing one ScanContext, run in-process to completion by
// the thread backend's library_scan handler.
package scanpipeline

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

// MatchEntry pairs a CalibreAuthor with the MatchResult the Match stage
// found for it (or nil, if unmatched).
type MatchEntry struct {
	Author domain.CalibreAuthor
	Result *matching.MatchResult
}

// ScanContext is shared mutable state threaded through every stage (§4.7).
// cancelFlag is polled at item boundaries rather than stored as a plain
// bool so thread and broker backends can back it with different
// mechanisms (an in-process flag vs. ProgressTracker.IsCancelled).
type ScanContext struct {
	LibraryID  int64
	Library    domain.Library
	DataSource domain.DataSource

	ProgressCallback domain.ProgressFunc
	cancelFlag       func() bool

	CrawledAuthors   []domain.CalibreAuthor
	MatchResults     []MatchEntry
	UnmatchedAuthors []domain.CalibreAuthor

	// ForceRematch and StaleMaxAgeDays configure matching.ProcessOptions
	// for every author in this scan (§4.4).
	ForceRematch    bool
	StaleMaxAgeDays *int

	// MaxWorksPerAuthor caps work fan-out per author during ingest (§4.7
	// step 3). Zero means unbounded.
	MaxWorksPerAuthor int
	// StaleRefreshIntervalDays is the ingest-stage minimum refresh
	// interval (§4.7 staleness semantics).
	StaleRefreshIntervalDays *int
}

// NewScanContext constructs a ScanContext. A nil cancelFlag is treated as
// "never cancelled".
func NewScanContext(libraryID int64, library domain.Library, source domain.DataSource, progress domain.ProgressFunc, cancelFlag func() bool) *ScanContext {
	if progress == nil {
		progress = func(float64, map[string]any) {}
	}
	if cancelFlag == nil {
		cancelFlag = func() bool { return false }
	}
	return &ScanContext{LibraryID: libraryID, Library: library, DataSource: source, ProgressCallback: progress, cancelFlag: cancelFlag}
}

// Cancelled reports whether cooperative cancellation has been requested.
func (s *ScanContext) Cancelled() bool { return s.cancelFlag() }

// reportStage attaches a structured current_stage substructure to the
// progress callback, matching §4.5 "Progress propagation".
func (s *ScanContext) reportStage(overall float64, name, status string, currentIndex, totalItems int, extra map[string]any) {
	stage := map[string]any{
		"name":          name,
		"status":        status,
		"current_index": currentIndex,
		"total_items":   totalItems,
	}
	for k, v := range extra {
		stage[k] = v
	}
	s.ProgressCallback(overall, map[string]any{"current_stage": stage})
}

// StageResult is a stage's outcome (§4.7).
type StageResult struct {
	Success bool
	Message string
	Stats   map[string]any
}

// Stage is one of the seven pipeline phases (§4.7).
type Stage interface {
	Name() string
	Execute(ctx domain.Context, sc *ScanContext) (StageResult, error)
}
