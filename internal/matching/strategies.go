package matching

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// Confidence constants per §4.4's strategy table.
const (
	ConfidenceIdentifier   = 0.98
	ConfidenceExact        = 0.90
	ConfidenceExactAlt     = 0.88
	fuzzyConfidenceFloor   = 0.50
	fuzzyConfidenceCeiling = 0.85
)

// DefaultFuzzyMinSimilarity is the fuzzy strategy's default acceptance
// threshold (§4.4).
const DefaultFuzzyMinSimilarity = 0.70

// MatchResult is what a strategy (or the orchestrator) returns for one
// CalibreAuthor against one candidate AuthorData (§4.4).
type MatchResult struct {
	Author          domain.AuthorData
	CalibreAuthorID int64
	Confidence      float64
	MatchedBy       domain.MatchMethod
}

// Strategy is one of the priority-ordered matching strategies (§4.4).
type Strategy interface {
	// Name identifies the strategy for logging/tracing.
	Name() string
	// Match searches source for candidates and returns the first accepted
	// result, or nil if none of the candidates satisfy this strategy's
	// rule. Network/RateLimit errors from the source are returned as-is so
	// the orchestrator can decide whether to try the next strategy.
	Match(ctx domain.Context, author domain.CalibreAuthor, source domain.DataSource) (*MatchResult, error)
}

// IdentifierStrategy matches by comparing external identifiers (VIAF,
// Goodreads, Wikidata, ISNI, ...) between the Calibre author and search
// candidates (§4.4). Confidence 0.98.
type IdentifierStrategy struct{}

func (IdentifierStrategy) Name() string { return "identifier" }

func (IdentifierStrategy) Match(ctx domain.Context, author domain.CalibreAuthor, source domain.DataSource) (*MatchResult, error) {
	if !author.HasIdentifiers() {
		return nil, nil
	}
	candidates, err := source.SearchAuthor(ctx, author.Name, &author.Identifiers)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if author.Identifiers.Match(c.Identifiers) {
			return &MatchResult{Author: c, CalibreAuthorID: author.ID, Confidence: ConfidenceIdentifier, MatchedBy: domain.MatchIdentifier}, nil
		}
	}
	return nil, nil
}

// ExactStrategy matches by normalized-name equality across a candidate's
// primary name or its alternate names (§4.4). Confidence 0.90 exact /
// 0.88 alternate.
type ExactStrategy struct{}

func (ExactStrategy) Name() string { return "exact" }

func (ExactStrategy) Match(ctx domain.Context, author domain.CalibreAuthor, source domain.DataSource) (*MatchResult, error) {
	target := Normalize(author.Name)
	if target == "" {
		return nil, nil
	}
	candidates, err := source.SearchAuthor(ctx, author.Name, nil)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if Normalize(c.Name) == target {
			return &MatchResult{Author: c, CalibreAuthorID: author.ID, Confidence: ConfidenceExact, MatchedBy: domain.MatchExact}, nil
		}
	}
	for _, c := range candidates {
		for _, alt := range c.AlternateNames {
			if Normalize(alt) == target {
				return &MatchResult{Author: c, CalibreAuthorID: author.ID, Confidence: ConfidenceExactAlt, MatchedBy: domain.MatchExactAlt}, nil
			}
		}
	}
	return nil, nil
}

// FuzzyStrategy matches by Levenshtein similarity, requiring at least
// MinSimilarity (default 0.70) and linearly mapping the accepted range
// [MinSimilarity, 1.0] onto a confidence range of [0.50, 0.85] (§4.4).
type FuzzyStrategy struct {
	MinSimilarity float64
}

// NewFuzzyStrategy constructs a FuzzyStrategy with minSimilarity, falling
// back to DefaultFuzzyMinSimilarity when minSimilarity <= 0.
func NewFuzzyStrategy(minSimilarity float64) FuzzyStrategy {
	if minSimilarity <= 0 {
		minSimilarity = DefaultFuzzyMinSimilarity
	}
	return FuzzyStrategy{MinSimilarity: minSimilarity}
}

func (FuzzyStrategy) Name() string { return "fuzzy" }

func (s FuzzyStrategy) Match(ctx domain.Context, author domain.CalibreAuthor, source domain.DataSource) (*MatchResult, error) {
	if Normalize(author.Name) == "" {
		return nil, nil
	}
	candidates, err := source.SearchAuthor(ctx, author.Name, nil)
	if err != nil {
		return nil, err
	}

	var best domain.AuthorData
	bestSim := -1.0
	found := false
	for _, c := range candidates {
		sim := Similarity(author.Name, c.Name)
		if sim >= s.minSimilarity() && sim > bestSim {
			best, bestSim, found = c, sim, true
		}
	}
	if !found {
		return nil, nil
	}
	return &MatchResult{
		Author:          best,
		CalibreAuthorID: author.ID,
		Confidence:      s.confidenceFor(bestSim),
		MatchedBy:       domain.MatchFuzzy,
	}, nil
}

func (s FuzzyStrategy) minSimilarity() float64 {
	if s.MinSimilarity <= 0 {
		return DefaultFuzzyMinSimilarity
	}
	return s.MinSimilarity
}

// confidenceFor linearly maps sim in [minSimilarity, 1.0] onto
// [fuzzyConfidenceFloor, fuzzyConfidenceCeiling].
func (s FuzzyStrategy) confidenceFor(sim float64) float64 {
	minSim := s.minSimilarity()
	if sim >= 1.0 {
		return fuzzyConfidenceCeiling
	}
	span := 1.0 - minSim
	if span <= 0 {
		return fuzzyConfidenceCeiling
	}
	frac := (sim - minSim) / span
	return fuzzyConfidenceFloor + frac*(fuzzyConfidenceCeiling-fuzzyConfidenceFloor)
}
