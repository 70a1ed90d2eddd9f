package datasource

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

// DefaultTitleTrigramThreshold is the local dump backend's minimum trigram
// similarity for a title match (§4.3, default 0.6).
const DefaultTitleTrigramThreshold = 0.6

// DumpAuthorRecord and DumpBookRecord are the rows a local dump backend is
// built from — e.g. decoded from an OpenLibrary-style bulk JSON/columnar
// dump (§6 openlibrary_dump_ingest). Loading and decoding the dump file
// itself is out of scope here (§1 Non-goals on provider payload parsing);
// this type is the load-time output a caller hands to NewDumpSource.
type DumpAuthorRecord struct {
	Data domain.AuthorData
}

// DumpBookRecord is one row of the local book dump.
type DumpBookRecord struct {
	Data domain.BookData
}

// DumpSource is a local columnar/JSON-dump-backed domain.DataSource (§4.3):
// exact equality for author names, trigram similarity >= threshold for book
// titles. It holds its records in memory; a production deployment loads
// them from the openlibrary_dump_ingest task's output.
type DumpSource struct {
	name             string
	authors          []DumpAuthorRecord
	authorsByKey     map[string]domain.AuthorData
	books            []DumpBookRecord
	titleThreshold   float64
}

// NewDumpSource constructs a DumpSource over authors and books, indexing
// authors by key for O(1) GetAuthor lookups.
func NewDumpSource(name string, authors []DumpAuthorRecord, books []DumpBookRecord, titleThreshold float64) *DumpSource {
	if titleThreshold <= 0 {
		titleThreshold = DefaultTitleTrigramThreshold
	}
	byKey := make(map[string]domain.AuthorData, len(authors))
	for _, a := range authors {
		if a.Data.Key != "" {
			byKey[a.Data.Key] = a.Data
		}
	}
	return &DumpSource{name: name, authors: authors, authorsByKey: byKey, books: books, titleThreshold: titleThreshold}
}

func (s *DumpSource) Name() string { return s.name }

// SearchAuthor returns every record whose normalized name equals name's
// normalized form (§4.3 "direct equality for author names").
func (s *DumpSource) SearchAuthor(ctx domain.Context, name string, identifiers *domain.IdentifierSet) ([]domain.AuthorData, error) {
	target := matching.Normalize(name)
	if target == "" {
		return nil, nil
	}
	var out []domain.AuthorData
	for _, a := range s.authors {
		if matching.Normalize(a.Data.Name) == target {
			out = append(out, a.Data)
			continue
		}
		for _, alt := range a.Data.AlternateNames {
			if matching.Normalize(alt) == target {
				out = append(out, a.Data)
				break
			}
		}
	}
	return out, nil
}

func (s *DumpSource) GetAuthor(ctx domain.Context, key string) (*domain.AuthorData, error) {
	a, ok := s.authorsByKey[key]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *DumpSource) GetAuthorWorks(ctx domain.Context, key string, limit int, lang string) ([]domain.WorkKey, error) {
	// Works are part of the full author record in a local dump; none are
	// tracked separately here since dump-backed deployments populate
	// AuthorData directly from the bulk ingest.
	return nil, nil
}

// SearchBook matches title via trigram similarity >= titleThreshold and
// ISBN/authors via direct equality, when provided (§4.3).
func (s *DumpSource) SearchBook(ctx domain.Context, title, isbn string, authors []string) ([]domain.BookData, error) {
	var out []domain.BookData
	for _, b := range s.books {
		if isbn != "" && b.Data.ISBN != isbn {
			continue
		}
		if title != "" && trigramSimilarity(title, b.Data.Title) < s.titleThreshold {
			continue
		}
		if len(authors) > 0 && !anyAuthorMatches(authors, b.Data.Authors) {
			continue
		}
		out = append(out, b.Data)
	}
	return out, nil
}

func (s *DumpSource) GetBook(ctx domain.Context, key string, skipAuthors bool) (*domain.BookData, error) {
	for _, b := range s.books {
		if b.Data.Key == key {
			data := b.Data
			if skipAuthors {
				data.Authors = nil
			}
			return &data, nil
		}
	}
	return nil, nil
}

func anyAuthorMatches(want, have []string) bool {
	for _, w := range want {
		wn := matching.Normalize(w)
		for _, h := range have {
			if wn != "" && matching.Normalize(h) == wn {
				return true
			}
		}
	}
	return false
}

// trigramSimilarity computes a Jaccard index over character trigrams of
// the normalized inputs (§4.3 "trigram similarity >= 0.6 for title
// matching"), a standard fuzzy-text-search technique distinct from the
// Levenshtein-based author similarity in package matching.
func trigramSimilarity(a, b string) float64 {
	na, nb := matching.Normalize(a), matching.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ta, tb := trigrams(na), trigrams(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]bool {
	padded := "  " + s + " "
	runes := []rune(padded)
	out := make(map[string]bool)
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = true
	}
	return out
}
