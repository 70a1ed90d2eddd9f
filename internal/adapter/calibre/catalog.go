// Package calibre provides the default domain.CalibreCatalog adapter: a
// narrow read of a Calibre library's own metadata.db (the `authors` table
// only). Parsing the rest of Calibre's schema is out of scope (§1
// Non-goals: "ORM model declarations") — this is strictly the boundary
// the scan pipeline needs, grounded on store.go's pure-Go modernc.org/sqlite
// usage for opening a SQLite file without cgo.
package calibre

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// Catalog implements domain.CalibreCatalog by opening each library's own
// metadata.db file on demand. A short-lived *sql.DB per call keeps this
// adapter stateless between scans, since a deployment's set of libraries
// can change between runs (§3 Library model).
type Catalog struct{}

// NewCatalog constructs a Catalog.
func NewCatalog() *Catalog { return &Catalog{} }

// ListAuthors opens library's metadata.db and reads every row of the
// `authors` table, Calibre's own fixed schema (id, name, sort, link).
// AlternateNames and Identifiers are left empty: Calibre's stock schema
// carries neither, and a plugin-populated identifiers table is a
// deployment-specific extension outside this adapter's boundary (§9 open
// question b).
func (c *Catalog) ListAuthors(ctx domain.Context, library domain.Library) ([]domain.CalibreAuthor, error) {
	path := filepath.Join(library.CalibreDBPath, library.DBFile)
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("op=Catalog.ListAuthors: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, name FROM authors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("op=Catalog.ListAuthors: %w", err)
	}
	defer rows.Close()

	var authors []domain.CalibreAuthor
	for rows.Next() {
		var a domain.CalibreAuthor
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("op=Catalog.ListAuthors: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=Catalog.ListAuthors: %w", err)
	}
	return authors, nil
}
