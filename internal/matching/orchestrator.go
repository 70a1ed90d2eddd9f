package matching

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var orchestratorTracer = otel.Tracer("matching.orchestrator")

// DefaultMinConfidence is the orchestrator's default acceptance floor (§4.4).
const DefaultMinConfidence = 0.5

// Orchestrator tries Strategies in priority order until one returns a
// result at or above MinConfidence (§4.4).
type Orchestrator struct {
	Strategies    []Strategy
	MinConfidence float64
}

// NewOrchestrator builds the standard identifier -> exact -> fuzzy pipeline.
func NewOrchestrator(minConfidence, fuzzyMinSimilarity float64) *Orchestrator {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Orchestrator{
		Strategies: []Strategy{
			IdentifierStrategy{},
			ExactStrategy{},
			NewFuzzyStrategy(fuzzyMinSimilarity),
		},
		MinConfidence: minConfidence,
	}
}

// Match iterates strategies in order, swallowing Network/RateLimit errors
// and trying the next strategy; it returns the first result whose
// confidence is >= MinConfidence, or nil if none matched (§4.4).
func (o *Orchestrator) Match(ctx domain.Context, author domain.CalibreAuthor, source domain.DataSource) (*MatchResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Match")
	defer span.End()
	span.SetAttributes(attribute.Int64("author.calibre_id", author.ID))

	for _, strat := range o.Strategies {
		result, err := strat.Match(ctx, author, source)
		if err != nil {
			if errors.Is(err, domain.ErrSourceNetwork) || errors.Is(err, domain.ErrSourceRateLimit) {
				continue
			}
			if errors.Is(err, domain.ErrSourceNotFound) {
				continue
			}
			return nil, fmt.Errorf("op=Match strategy=%s: %w", strat.Name(), err)
		}
		if result != nil && result.Confidence >= o.MinConfidence {
			span.SetAttributes(attribute.String("matching.strategy", strat.Name()))
			return result, nil
		}
	}
	return nil, nil
}

// ProcessOptions configures ProcessMatchRequest (§4.4).
type ProcessOptions struct {
	Force            bool
	Key              *string
	StaleMaxAgeDays  *int
}

// ProcessMatchRequest wraps Match with the skip-gate, staleness-gate, forced
// direct-key lookup, and unmatched-placeholder bookkeeping of §4.4. repo
// persists the resulting AuthorMetadata/AuthorMapping rows.
func ProcessMatchRequest(
	ctx domain.Context,
	o *Orchestrator,
	repo domain.AuthorGraphRepository,
	author domain.CalibreAuthor,
	libraryID int64,
	source domain.DataSource,
	opts ProcessOptions,
) (*MatchResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "ProcessMatchRequest")
	defer span.End()

	existing, hasExisting, err := repo.FindMappingByCalibreAuthorAndLibrary(ctx, author.ID, libraryID)
	if err != nil {
		return nil, fmt.Errorf("op=ProcessMatchRequest: %w", err)
	}

	var existingMeta domain.AuthorMetadata
	var hasExistingMeta bool
	if hasExisting {
		existingMeta, err = repo.GetAuthorMetadata(ctx, existing.AuthorMetadataID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("op=ProcessMatchRequest: %w", err)
		}
		hasExistingMeta = err == nil
	}

	if hasExisting && hasExistingMeta {
		alreadyMatched := existing.MatchedBy != domain.MatchUnmatched && existingMeta.ExternalKey != nil
		if alreadyMatched && !opts.Force {
			return nil, nil // skip-gate
		}
		if opts.StaleMaxAgeDays != nil && existingMeta.LastSyncedAt != nil {
			age := time.Since(*existingMeta.LastSyncedAt)
			if age < time.Duration(*opts.StaleMaxAgeDays)*24*time.Hour {
				return nil, nil // staleness gate
			}
		}
	}

	var result *MatchResult
	if opts.Force && opts.Key != nil {
		data, gerr := source.GetAuthor(ctx, *opts.Key)
		if gerr != nil {
			return nil, fmt.Errorf("op=ProcessMatchRequest direct_key: %w", gerr)
		}
		if data == nil {
			return nil, fmt.Errorf("op=ProcessMatchRequest direct_key: %w", domain.ErrSourceNotFound)
		}
		result = &MatchResult{Author: *data, CalibreAuthorID: author.ID, Confidence: 1.0, MatchedBy: domain.MatchDirectKey}
	} else {
		result, err = o.Match(ctx, author, source)
		if err != nil {
			return nil, err
		}
	}

	if result != nil {
		result.CalibreAuthorID = author.ID
		if err := linkMatch(ctx, repo, author, libraryID, hasExisting, existing, *result); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := linkUnmatched(ctx, repo, author, libraryID, hasExisting, existing); err != nil {
		return nil, err
	}
	return nil, nil
}

func linkMatch(ctx domain.Context, repo domain.AuthorGraphRepository, author domain.CalibreAuthor, libraryID int64, hasExisting bool, existing domain.AuthorMapping, result MatchResult) error {
	metaID, err := ensureMetadataForMatch(ctx, repo, result)
	if err != nil {
		return fmt.Errorf("op=linkMatch: %w", err)
	}
	mapping := domain.AuthorMapping{
		LibraryID:        libraryID,
		CalibreAuthorID:  author.ID,
		AuthorMetadataID: metaID,
		ConfidenceScore:  result.Confidence,
		MatchedBy:        result.MatchedBy,
		IsVerified:       false,
	}
	if hasExisting {
		mapping.ID = existing.ID
		if err := repo.UpdateMapping(ctx, mapping); err != nil {
			return fmt.Errorf("op=linkMatch: %w", err)
		}
		return nil
	}
	_, err = repo.CreateMapping(ctx, mapping)
	if err != nil {
		return fmt.Errorf("op=linkMatch: %w", err)
	}
	return nil
}

func linkUnmatched(ctx domain.Context, repo domain.AuthorGraphRepository, author domain.CalibreAuthor, libraryID int64, hasExisting bool, existing domain.AuthorMapping) error {
	placeholder := domain.AuthorMetadata{Name: author.Name, ExternalKey: nil}
	metaID, err := repo.CreateAuthorMetadata(ctx, placeholder)
	if err != nil {
		return fmt.Errorf("op=linkUnmatched: %w", err)
	}
	mapping := domain.AuthorMapping{
		LibraryID:        libraryID,
		CalibreAuthorID:  author.ID,
		AuthorMetadataID: metaID,
		ConfidenceScore:  0,
		MatchedBy:        domain.MatchUnmatched,
		IsVerified:       false,
	}
	if hasExisting {
		mapping.ID = existing.ID
		if err := repo.UpdateMapping(ctx, mapping); err != nil {
			return fmt.Errorf("op=linkUnmatched: %w", err)
		}
		return nil
	}
	if _, err := repo.CreateMapping(ctx, mapping); err != nil {
		return fmt.Errorf("op=linkUnmatched: %w", err)
	}
	return nil
}

// ensureMetadataForMatch returns the id of the AuthorMetadata row keyed by
// result.Author.Key, creating a minimal stub if one doesn't exist yet. The
// ingest stage (§4.7 step 3) is responsible for the full fetch/update.
func ensureMetadataForMatch(ctx domain.Context, repo domain.AuthorGraphRepository, result MatchResult) (int64, error) {
	if result.Author.Key == "" {
		// direct_key / identifier matches always carry a key; defensive only.
		meta := domain.AuthorMetadata{Name: result.Author.Name}
		return repo.CreateAuthorMetadata(ctx, meta)
	}
	existing, err := repo.GetAuthorMetadataByExternalKey(ctx, result.Author.Key)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	key := result.Author.Key
	meta := domain.AuthorMetadata{
		Name:           result.Author.Name,
		ExternalKey:    &key,
		AlternateNames: result.Author.AlternateNames,
	}
	return repo.CreateAuthorMetadata(ctx, meta)
}
