package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// LibraryRepo implements domain.LibraryRepository.
type LibraryRepo struct {
	pool PgxPool
}

// NewLibraryRepo constructs a LibraryRepo.
func NewLibraryRepo(pool PgxPool) *LibraryRepo { return &LibraryRepo{pool: pool} }

var libraryTracer = otel.Tracer("adapter.repo.postgres.library")

func (r *LibraryRepo) Get(ctx domain.Context, id int64) (domain.Library, error) {
	ctx, span := libraryTracer.Start(ctx, "LibraryRepo.Get")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, calibre_db_path, db_file, uuid, is_active FROM libraries WHERE id = $1`, id)
	var l domain.Library
	if err := row.Scan(&l.ID, &l.CalibreDBPath, &l.DBFile, &l.UUID, &l.IsActive); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Library{}, fmt.Errorf("op=Get: %w", domain.ErrNotFound)
		}
		return domain.Library{}, fmt.Errorf("op=Get: %w", err)
	}
	return l, nil
}

func (r *LibraryRepo) GetActive(ctx domain.Context) (domain.Library, error) {
	ctx, span := libraryTracer.Start(ctx, "LibraryRepo.GetActive")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, calibre_db_path, db_file, uuid, is_active FROM libraries WHERE is_active = true LIMIT 1`)
	var l domain.Library
	if err := row.Scan(&l.ID, &l.CalibreDBPath, &l.DBFile, &l.UUID, &l.IsActive); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Library{}, fmt.Errorf("op=GetActive: %w", domain.ErrNotFound)
		}
		return domain.Library{}, fmt.Errorf("op=GetActive: %w", err)
	}
	return l, nil
}

func (r *LibraryRepo) List(ctx domain.Context) ([]domain.Library, error) {
	ctx, span := libraryTracer.Start(ctx, "LibraryRepo.List")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT id, calibre_db_path, db_file, uuid, is_active FROM libraries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("op=List: %w", err)
	}
	defer rows.Close()

	var out []domain.Library
	for rows.Next() {
		var l domain.Library
		if err := rows.Scan(&l.ID, &l.CalibreDBPath, &l.DBFile, &l.UUID, &l.IsActive); err != nil {
			return nil, fmt.Errorf("op=List: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetActive deactivates every other library and activates id, inside one
// transaction, enforcing the "at most one active library" invariant (§3).
func (r *LibraryRepo) SetActive(ctx domain.Context, id int64) error {
	ctx, span := libraryTracer.Start(ctx, "LibraryRepo.SetActive")
	defer span.End()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=SetActive: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE libraries SET is_active = false WHERE is_active = true`); err != nil {
		return fmt.Errorf("op=SetActive: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE libraries SET is_active = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("op=SetActive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=SetActive: %w", domain.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=SetActive: %w", err)
	}
	return nil
}
