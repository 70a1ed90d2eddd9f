package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// AuthorGraphRepo implements domain.AuthorGraphRepository over the
// author_metadata / author_mapping / author_similarity tables (§3).
type AuthorGraphRepo struct {
	pool PgxPool
}

// NewAuthorGraphRepo constructs an AuthorGraphRepo.
func NewAuthorGraphRepo(pool PgxPool) *AuthorGraphRepo { return &AuthorGraphRepo{pool: pool} }

var authorGraphTracer = otel.Tracer("adapter.repo.postgres.author_graph")

func (r *AuthorGraphRepo) CreateAuthorMetadata(ctx domain.Context, a domain.AuthorMetadata) (int64, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.CreateAuthorMetadata")
	defer span.End()

	altNames, err := json.Marshal(a.AlternateNames)
	if err != nil {
		return 0, fmt.Errorf("op=CreateAuthorMetadata: %w", err)
	}

	var id int64
	row := r.pool.QueryRow(ctx, `
		INSERT INTO author_metadata (name, external_key, alternate_names, biography, birth_date,
			death_date, location, photo_url, personal, fuller, title, top_work, ratings_average,
			ratings_count, work_count, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		a.Name, a.ExternalKey, altNames, a.Biography, a.BirthDate, a.DeathDate, a.Location,
		a.PhotoURL, a.Personal, a.Fuller, a.Title, a.TopWork, a.RatingsAverage, a.RatingsCount,
		a.WorkCount, a.LastSyncedAt)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=CreateAuthorMetadata: %w", err)
	}

	if err := r.replaceRemoteIDs(ctx, r.pool, id, a.RemoteIDs); err != nil {
		return 0, fmt.Errorf("op=CreateAuthorMetadata: %w", err)
	}
	if err := r.replaceWorks(ctx, r.pool, id, a.Works); err != nil {
		return 0, fmt.Errorf("op=CreateAuthorMetadata: %w", err)
	}
	return id, nil
}

func (r *AuthorGraphRepo) GetAuthorMetadata(ctx domain.Context, id int64) (domain.AuthorMetadata, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.GetAuthorMetadata")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, name, external_key, alternate_names, biography, birth_date, death_date,
			location, photo_url, personal, fuller, title, top_work, ratings_average,
			ratings_count, work_count, last_synced_at
		FROM author_metadata WHERE id = $1`, id)
	a, err := r.scanAuthorMetadata(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AuthorMetadata{}, fmt.Errorf("op=GetAuthorMetadata: %w", domain.ErrNotFound)
		}
		return domain.AuthorMetadata{}, fmt.Errorf("op=GetAuthorMetadata: %w", err)
	}
	if err := r.loadChildren(ctx, &a); err != nil {
		return domain.AuthorMetadata{}, fmt.Errorf("op=GetAuthorMetadata: %w", err)
	}
	return a, nil
}

func (r *AuthorGraphRepo) GetAuthorMetadataByExternalKey(ctx domain.Context, externalKey string) (domain.AuthorMetadata, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.GetAuthorMetadataByExternalKey")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, name, external_key, alternate_names, biography, birth_date, death_date,
			location, photo_url, personal, fuller, title, top_work, ratings_average,
			ratings_count, work_count, last_synced_at
		FROM author_metadata WHERE external_key = $1`, externalKey)
	a, err := r.scanAuthorMetadata(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AuthorMetadata{}, fmt.Errorf("op=GetAuthorMetadataByExternalKey: %w", domain.ErrNotFound)
		}
		return domain.AuthorMetadata{}, fmt.Errorf("op=GetAuthorMetadataByExternalKey: %w", err)
	}
	if err := r.loadChildren(ctx, &a); err != nil {
		return domain.AuthorMetadata{}, fmt.Errorf("op=GetAuthorMetadataByExternalKey: %w", err)
	}
	return a, nil
}

func (r *AuthorGraphRepo) UpdateAuthorMetadata(ctx domain.Context, a domain.AuthorMetadata) error {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.UpdateAuthorMetadata")
	defer span.End()

	altNames, err := json.Marshal(a.AlternateNames)
	if err != nil {
		return fmt.Errorf("op=UpdateAuthorMetadata: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE author_metadata SET name = $1, external_key = $2, alternate_names = $3,
			biography = $4, birth_date = $5, death_date = $6, location = $7, photo_url = $8,
			personal = $9, fuller = $10, title = $11, top_work = $12, ratings_average = $13,
			ratings_count = $14, work_count = $15, last_synced_at = $16
		WHERE id = $17`,
		a.Name, a.ExternalKey, altNames, a.Biography, a.BirthDate, a.DeathDate, a.Location,
		a.PhotoURL, a.Personal, a.Fuller, a.Title, a.TopWork, a.RatingsAverage, a.RatingsCount,
		a.WorkCount, a.LastSyncedAt, a.ID)
	if err != nil {
		return fmt.Errorf("op=UpdateAuthorMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=UpdateAuthorMetadata: %w", domain.ErrNotFound)
	}

	if err := r.replaceRemoteIDs(ctx, r.pool, a.ID, a.RemoteIDs); err != nil {
		return fmt.Errorf("op=UpdateAuthorMetadata: %w", err)
	}
	if err := r.replaceWorks(ctx, r.pool, a.ID, a.Works); err != nil {
		return fmt.Errorf("op=UpdateAuthorMetadata: %w", err)
	}
	return nil
}

func (r *AuthorGraphRepo) DeleteAuthorMetadata(ctx domain.Context, id int64) error {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.DeleteAuthorMetadata")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM author_metadata WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("op=DeleteAuthorMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=DeleteAuthorMetadata: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *AuthorGraphRepo) ListAuthorMetadataByLibrary(ctx domain.Context, libraryID int64) ([]domain.AuthorMetadata, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.ListAuthorMetadataByLibrary")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT m.id, m.name, m.external_key, m.alternate_names, m.biography, m.birth_date,
			m.death_date, m.location, m.photo_url, m.personal, m.fuller, m.title, m.top_work,
			m.ratings_average, m.ratings_count, m.work_count, m.last_synced_at
		FROM author_metadata m
		JOIN author_mapping am ON am.author_metadata_id = m.id
		WHERE am.library_id = $1
		ORDER BY m.id`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("op=ListAuthorMetadataByLibrary: %w", err)
	}
	defer rows.Close()

	var out []domain.AuthorMetadata
	for rows.Next() {
		a, err := r.scanAuthorMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("op=ListAuthorMetadataByLibrary: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=ListAuthorMetadataByLibrary: %w", err)
	}
	for i := range out {
		if err := r.loadChildren(ctx, &out[i]); err != nil {
			return nil, fmt.Errorf("op=ListAuthorMetadataByLibrary: %w", err)
		}
	}
	return out, nil
}

func (r *AuthorGraphRepo) scanAuthorMetadata(row rowScanner) (domain.AuthorMetadata, error) {
	var a domain.AuthorMetadata
	var altNamesRaw []byte
	if err := row.Scan(&a.ID, &a.Name, &a.ExternalKey, &altNamesRaw, &a.Biography, &a.BirthDate,
		&a.DeathDate, &a.Location, &a.PhotoURL, &a.Personal, &a.Fuller, &a.Title, &a.TopWork,
		&a.RatingsAverage, &a.RatingsCount, &a.WorkCount, &a.LastSyncedAt); err != nil {
		return domain.AuthorMetadata{}, err
	}
	if len(altNamesRaw) > 0 {
		_ = json.Unmarshal(altNamesRaw, &a.AlternateNames)
	}
	return a, nil
}

func (r *AuthorGraphRepo) loadChildren(ctx domain.Context, a *domain.AuthorMetadata) error {
	rows, err := r.pool.Query(ctx, `
		SELECT identifier_type, value FROM author_remote_ids WHERE author_metadata_id = $1`, a.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var rid domain.AuthorRemoteID
		if err := rows.Scan(&rid.IdentifierType, &rid.Value); err != nil {
			rows.Close()
			return err
		}
		a.RemoteIDs = append(a.RemoteIDs, rid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	workRows, err := r.pool.Query(ctx, `
		SELECT work_key, title, subjects FROM author_works WHERE author_metadata_id = $1`, a.ID)
	if err != nil {
		return err
	}
	defer workRows.Close()
	for workRows.Next() {
		var w domain.AuthorWork
		var subjectsRaw []byte
		if err := workRows.Scan(&w.WorkKey, &w.Title, &subjectsRaw); err != nil {
			return err
		}
		if len(subjectsRaw) > 0 {
			_ = json.Unmarshal(subjectsRaw, &w.Subjects)
		}
		a.Works = append(a.Works, w)
	}
	return workRows.Err()
}

func (r *AuthorGraphRepo) replaceRemoteIDs(ctx domain.Context, pool PgxPool, authorMetadataID int64, ids []domain.AuthorRemoteID) error {
	if _, err := pool.Exec(ctx, `DELETE FROM author_remote_ids WHERE author_metadata_id = $1`, authorMetadataID); err != nil {
		return err
	}
	for _, rid := range ids {
		if _, err := pool.Exec(ctx, `
			INSERT INTO author_remote_ids (author_metadata_id, identifier_type, value)
			VALUES ($1, $2, $3)`, authorMetadataID, rid.IdentifierType, rid.Value); err != nil {
			return err
		}
	}
	return nil
}

func (r *AuthorGraphRepo) replaceWorks(ctx domain.Context, pool PgxPool, authorMetadataID int64, works []domain.AuthorWork) error {
	if _, err := pool.Exec(ctx, `DELETE FROM author_works WHERE author_metadata_id = $1`, authorMetadataID); err != nil {
		return err
	}
	for _, w := range works {
		subjects, err := json.Marshal(w.Subjects)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO author_works (author_metadata_id, work_key, title, subjects)
			VALUES ($1, $2, $3, $4)`, authorMetadataID, w.WorkKey, w.Title, subjects); err != nil {
			return err
		}
	}
	return nil
}

func (r *AuthorGraphRepo) FindMappingByCalibreAuthorAndLibrary(ctx domain.Context, calibreAuthorID, libraryID int64) (domain.AuthorMapping, bool, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.FindMappingByCalibreAuthorAndLibrary")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, library_id, calibre_author_id, author_metadata_id, confidence_score,
			matched_by, is_verified, created_at, updated_at
		FROM author_mapping WHERE calibre_author_id = $1 AND library_id = $2`, calibreAuthorID, libraryID)
	m, err := scanMapping(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AuthorMapping{}, false, nil
		}
		return domain.AuthorMapping{}, false, fmt.Errorf("op=FindMappingByCalibreAuthorAndLibrary: %w", err)
	}
	return m, true, nil
}

func (r *AuthorGraphRepo) CreateMapping(ctx domain.Context, m domain.AuthorMapping) (int64, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.CreateMapping")
	defer span.End()

	var id int64
	row := r.pool.QueryRow(ctx, `
		INSERT INTO author_mapping (library_id, calibre_author_id, author_metadata_id,
			confidence_score, matched_by, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id`,
		m.LibraryID, m.CalibreAuthorID, m.AuthorMetadataID, m.ConfidenceScore, string(m.MatchedBy), m.IsVerified)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=CreateMapping: %w", err)
	}
	return id, nil
}

func (r *AuthorGraphRepo) UpdateMapping(ctx domain.Context, m domain.AuthorMapping) error {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.UpdateMapping")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
		UPDATE author_mapping SET author_metadata_id = $1, confidence_score = $2,
			matched_by = $3, is_verified = $4, updated_at = now()
		WHERE id = $5`,
		m.AuthorMetadataID, m.ConfidenceScore, string(m.MatchedBy), m.IsVerified, m.ID)
	if err != nil {
		return fmt.Errorf("op=UpdateMapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=UpdateMapping: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *AuthorGraphRepo) ListMappingsByMetadataID(ctx domain.Context, metadataID int64) ([]domain.AuthorMapping, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.ListMappingsByMetadataID")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT id, library_id, calibre_author_id, author_metadata_id, confidence_score,
			matched_by, is_verified, created_at, updated_at
		FROM author_mapping WHERE author_metadata_id = $1`, metadataID)
	if err != nil {
		return nil, fmt.Errorf("op=ListMappingsByMetadataID: %w", err)
	}
	defer rows.Close()

	var out []domain.AuthorMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("op=ListMappingsByMetadataID: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RepointMappings retargets every mapping pointing at fromMetadataID to
// toMetadataID, used by the duplicate merger (§4.9).
func (r *AuthorGraphRepo) RepointMappings(ctx domain.Context, fromMetadataID, toMetadataID int64) error {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.RepointMappings")
	defer span.End()

	_, err := r.pool.Exec(ctx, `
		UPDATE author_mapping SET author_metadata_id = $1, updated_at = now()
		WHERE author_metadata_id = $2`, toMetadataID, fromMetadataID)
	if err != nil {
		return fmt.Errorf("op=RepointMappings: %w", err)
	}
	return nil
}

func scanMapping(row rowScanner) (domain.AuthorMapping, error) {
	var m domain.AuthorMapping
	var matchedByStr string
	if err := row.Scan(&m.ID, &m.LibraryID, &m.CalibreAuthorID, &m.AuthorMetadataID,
		&m.ConfidenceScore, &matchedByStr, &m.IsVerified, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.AuthorMapping{}, err
	}
	m.MatchedBy = domain.MatchMethod(matchedByStr)
	return m, nil
}

func (r *AuthorGraphRepo) ListSimilaritiesByAuthor(ctx domain.Context, authorID int64) ([]domain.AuthorSimilarity, error) {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.ListSimilaritiesByAuthor")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT id, author1_id, author2_id, score, computed_at FROM author_similarity
		WHERE author1_id = $1 OR author2_id = $1`, authorID)
	if err != nil {
		return nil, fmt.Errorf("op=ListSimilaritiesByAuthor: %w", err)
	}
	defer rows.Close()

	var out []domain.AuthorSimilarity
	for rows.Next() {
		var s domain.AuthorSimilarity
		if err := rows.Scan(&s.ID, &s.Author1ID, &s.Author2ID, &s.Score, &s.ComputedAt); err != nil {
			return nil, fmt.Errorf("op=ListSimilaritiesByAuthor: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSimilarity writes an (author1, author2) pair, normalizing
// order so the unique constraint treats (a,b) and (b,a) as the same row (§3).
func (r *AuthorGraphRepo) UpsertSimilarity(ctx domain.Context, s domain.AuthorSimilarity) error {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.UpsertSimilarity")
	defer span.End()

	a1, a2 := s.Author1ID, s.Author2ID
	if a1 > a2 {
		a1, a2 = a2, a1
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO author_similarity (author1_id, author2_id, score, computed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (author1_id, author2_id) DO UPDATE SET score = $3, computed_at = now()`,
		a1, a2, s.Score)
	if err != nil {
		return fmt.Errorf("op=UpsertSimilarity: %w", err)
	}
	return nil
}

// RepointSimilarities moves every similarity row referencing fromAuthorID to
// toAuthorID after a merge, dropping rows that would become self-pairs and
// keeping every repointed pair stored smaller id first, as UpsertSimilarity
// does (§4.9).
func (r *AuthorGraphRepo) RepointSimilarities(ctx domain.Context, fromAuthorID, toAuthorID int64) error {
	ctx, span := authorGraphTracer.Start(ctx, "AuthorGraphRepo.RepointSimilarities")
	defer span.End()

	if _, err := r.pool.Exec(ctx, `
		DELETE FROM author_similarity
		WHERE (author1_id = $1 AND author2_id = $2) OR (author1_id = $2 AND author2_id = $1)`,
		fromAuthorID, toAuthorID); err != nil {
		return fmt.Errorf("op=RepointSimilarities: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `
		UPDATE author_similarity SET
			author1_id = LEAST(CASE WHEN author1_id = $2 THEN $1 ELSE author1_id END,
				CASE WHEN author2_id = $2 THEN $1 ELSE author2_id END),
			author2_id = GREATEST(CASE WHEN author1_id = $2 THEN $1 ELSE author1_id END,
				CASE WHEN author2_id = $2 THEN $1 ELSE author2_id END)
		WHERE author1_id = $2 OR author2_id = $2`,
		toAuthorID, fromAuthorID); err != nil {
		return fmt.Errorf("op=RepointSimilarities: %w", err)
	}
	return nil
}
