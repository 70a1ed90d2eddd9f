package domain

import "time"

// Library is a logical handle to an external book catalog (§3).
type Library struct {
	ID            int64
	CalibreDBPath string
	DBFile        string
	UUID          *string
	IsActive      bool
}

// LibraryRepository persists Library rows. At most one row may have
// IsActive = true (§3 invariant), enforced by the adapter.
type LibraryRepository interface {
	Get(ctx Context, id int64) (Library, error)
	GetActive(ctx Context) (Library, error)
	List(ctx Context) ([]Library, error)
	SetActive(ctx Context, id int64) error
}

// MatchMethod is one of the fixed values persisted in AuthorMapping.MatchedBy (§6).
type MatchMethod string

// Match methods, exact string identifiers per §6.
const (
	MatchIdentifier    MatchMethod = "identifier"
	MatchExact         MatchMethod = "exact"
	MatchExactAlt      MatchMethod = "exact_alternate"
	MatchFuzzy         MatchMethod = "fuzzy"
	MatchDirectKey     MatchMethod = "direct_key"
	MatchUnmatched     MatchMethod = "unmatched"
	MatchManual        MatchMethod = "manual"
	MatchManualRefresh MatchMethod = "manual_refresh"
	MatchNameExact     MatchMethod = "name_exact"
	MatchNameFuzzy     MatchMethod = "name_fuzzy"
)

// IdentifierSet holds the external identifiers a data source may report for
// an author (§6 IdentifierDict).
type IdentifierSet struct {
	VIAF        string
	Goodreads   string
	Wikidata    string
	ISNI        string
	LibraryThing string
	Amazon      string
	IMDB        string
	MusicBrainz string
	LCNAF       string
	OPACSBN     string
	StoryGraph  string
}

// Match returns true if any non-empty identifier in s equals the
// corresponding one in other. An empty identifier never matches (§9 b).
func (s IdentifierSet) Match(other IdentifierSet) bool {
	pairs := [][2]string{
		{s.VIAF, other.VIAF}, {s.Goodreads, other.Goodreads}, {s.Wikidata, other.Wikidata},
		{s.ISNI, other.ISNI}, {s.LibraryThing, other.LibraryThing}, {s.Amazon, other.Amazon},
		{s.IMDB, other.IMDB}, {s.MusicBrainz, other.MusicBrainz}, {s.LCNAF, other.LCNAF},
		{s.OPACSBN, other.OPACSBN}, {s.StoryGraph, other.StoryGraph},
	}
	for _, p := range pairs {
		if p[0] != "" && p[0] == p[1] {
			return true
		}
	}
	return false
}

// AuthorMetadata is the primary entity of the author graph, keyed uniquely
// by external provider key; a null key denotes an unmatched placeholder (§3).
type AuthorMetadata struct {
	ID              int64
	Name            string
	ExternalKey     *string // nil => unmatched placeholder
	AlternateNames  []string
	Biography       string
	BirthDate       *string
	DeathDate       *string
	Location        string
	PhotoURL        string
	Personal        string
	Fuller          string
	Title           string
	TopWork         string
	RatingsAverage  *float64
	RatingsCount    int64
	WorkCount       int64
	LastSyncedAt    *time.Time
	RemoteIDs       []AuthorRemoteID
	Works           []AuthorWork
}

// IsUnmatched reports whether this row is an unmatched placeholder (§9 glossary).
func (a AuthorMetadata) IsUnmatched() bool { return a.ExternalKey == nil }

// AuthorRemoteID is a one-to-many child of AuthorMetadata recording an
// external identifier under a named scheme.
type AuthorRemoteID struct {
	IdentifierType string
	Value          string
}

// AuthorWork is a one-to-many child of AuthorMetadata linking to subjects.
type AuthorWork struct {
	WorkKey  string
	Title    string
	Subjects []string
}

// AuthorMapping links a Calibre-side author to an AuthorMetadata within a
// specific library (§3).
type AuthorMapping struct {
	ID               int64
	LibraryID        int64
	CalibreAuthorID  int64
	AuthorMetadataID int64
	ConfidenceScore  float64
	MatchedBy        MatchMethod
	IsVerified       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsMatched reports whether this mapping represents a real (non-unmatched)
// link, used for skip-gating (§3 invariant, §4.4).
func (m AuthorMapping) IsMatched(metadataExternalKeyIsNil bool) bool {
	return m.MatchedBy != MatchUnmatched && !metadataExternalKeyIsNil
}

// AuthorSimilarity is a directed pair with a score; unique (author1, author2) (§3).
type AuthorSimilarity struct {
	ID         int64
	Author1ID  int64
	Author2ID  int64
	Score      float64
	ComputedAt time.Time
}

// AuthorGraphRepository is the persistence port over the AuthorMetadata graph
// (AuthorMetadata/AuthorMapping/AuthorSimilarity and their children).
type AuthorGraphRepository interface {
	CreateAuthorMetadata(ctx Context, a AuthorMetadata) (int64, error)
	GetAuthorMetadata(ctx Context, id int64) (AuthorMetadata, error)
	GetAuthorMetadataByExternalKey(ctx Context, externalKey string) (AuthorMetadata, error)
	UpdateAuthorMetadata(ctx Context, a AuthorMetadata) error
	DeleteAuthorMetadata(ctx Context, id int64) error
	ListAuthorMetadataByLibrary(ctx Context, libraryID int64) ([]AuthorMetadata, error)

	FindMappingByCalibreAuthorAndLibrary(ctx Context, calibreAuthorID, libraryID int64) (AuthorMapping, bool, error)
	CreateMapping(ctx Context, m AuthorMapping) (int64, error)
	UpdateMapping(ctx Context, m AuthorMapping) error
	ListMappingsByMetadataID(ctx Context, metadataID int64) ([]AuthorMapping, error)
	RepointMappings(ctx Context, fromMetadataID, toMetadataID int64) error

	ListSimilaritiesByAuthor(ctx Context, authorID int64) ([]AuthorSimilarity, error)
	UpsertSimilarity(ctx Context, s AuthorSimilarity) error
	RepointSimilarities(ctx Context, fromAuthorID, toAuthorID int64) error
}
