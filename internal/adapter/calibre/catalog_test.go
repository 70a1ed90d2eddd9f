package calibre

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestCatalog_ListAuthors(t *testing.T) {
	dir := t.TempDir()
	dbFile := "metadata.db"
	path := filepath.Join(dir, dbFile)

	setup, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := setup.Exec(`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT, sort TEXT, link TEXT)`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := setup.Exec(`INSERT INTO authors (id, name, sort, link) VALUES (1, 'Ann Leckie', 'Leckie, Ann', ''), (2, 'Ursula K. Le Guin', 'Le Guin, Ursula K.', '')`); err != nil {
		t.Fatalf("seed authors: %v", err)
	}
	if err := setup.Close(); err != nil {
		t.Fatalf("close setup connection: %v", err)
	}

	catalog := NewCatalog()
	library := domain.Library{ID: 1, CalibreDBPath: dir, DBFile: dbFile}

	authors, err := catalog.ListAuthors(context.Background(), library)
	if err != nil {
		t.Fatalf("ListAuthors: %v", err)
	}
	if len(authors) != 2 {
		t.Fatalf("expected 2 authors, got %d", len(authors))
	}
	if authors[0].ID != 1 || authors[0].Name != "Ann Leckie" {
		t.Fatalf("unexpected first author: %+v", authors[0])
	}
	if authors[1].ID != 2 || authors[1].Name != "Ursula K. Le Guin" {
		t.Fatalf("unexpected second author: %+v", authors[1])
	}
}

func TestCatalog_ListAuthors_MissingFile(t *testing.T) {
	catalog := NewCatalog()
	library := domain.Library{ID: 1, CalibreDBPath: t.TempDir(), DBFile: "does-not-exist.db"}

	if _, err := catalog.ListAuthors(context.Background(), library); err == nil {
		t.Fatalf("expected an error for a missing metadata.db, got nil")
	}
}
