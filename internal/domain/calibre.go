package domain

// CalibreAuthor is the Calibre-side half of a match (§4.4): the entity
// being bridged to an external AuthorData by the matching strategies.
// Calibre's own schema is out of scope (§1 Non-goals); this is the minimal
// shape the matching and scan-pipeline components need from it.
type CalibreAuthor struct {
	ID             int64
	Name           string
	AlternateNames []string
	// Identifiers is populated only when the calling library stores
	// external identifiers alongside its Calibre author rows (e.g. via a
	// metadata plugin); empty fields never match (§9 open question b).
	Identifiers IdentifierSet
}

// HasIdentifiers reports whether any identifier field is populated.
func (a CalibreAuthor) HasIdentifiers() bool {
	empty := IdentifierSet{}
	return a.Identifiers != empty
}

// CalibreCatalog enumerates authors (and, optionally, books) from a
// Calibre library catalog for the Crawl stage (§4.7 step 1). Parsing
// Calibre's own metadata.db schema is out of scope (§1 Non-goals: "ORM
// model declarations"); this is the narrow read boundary the scan
// pipeline needs from whatever concrete catalog reader a deployment
// wires in.
type CalibreCatalog interface {
	ListAuthors(ctx Context, library Library) ([]CalibreAuthor, error)
}
