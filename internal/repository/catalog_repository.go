package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripdesk/groundwork/internal/models"
)

// CatalogRepository reads the place catalog. It never writes.
type CatalogRepository struct {
	db *pgxpool.Pool
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const catalogColumns = `c.id, c.primary_name, c.local_name, c.categories, c.region, c.description`

// containmentQuery finds, for every probe name, catalog rows whose primary or local name contains
// the probe or is contained in it, case-insensitively. ORDINALITY is 1-based.
const containmentQuery = `
	SELECT q.idx, ` + catalogColumns + `
	FROM unnest($1::text[]) WITH ORDINALITY AS q(name, idx)
	JOIN catalog_places c ON
		strpos(lower(c.primary_name), lower(q.name)) > 0
		OR strpos(lower(q.name), lower(c.primary_name)) > 0
		OR (c.local_name IS NOT NULL AND c.local_name != '' AND (
			strpos(lower(c.local_name), lower(q.name)) > 0
			OR strpos(lower(q.name), lower(c.local_name)) > 0))
	WHERE trim(q.name) != ''
	ORDER BY q.idx, c.id`

// fuzzyQuery keeps the single best trigram hit per probe name above the threshold. The %
// operator prefilters through the trigram indexes using pg_trgm.similarity_threshold.
const fuzzyQuery = `
	SELECT DISTINCT ON (q.idx) q.idx, c.id,
		GREATEST(similarity(c.primary_name, q.name), COALESCE(similarity(c.local_name, q.name), 0)) AS score
	FROM unnest($1::text[]) WITH ORDINALITY AS q(name, idx)
	JOIN catalog_places c ON c.primary_name % q.name OR c.local_name % q.name
	WHERE trim(q.name) != ''
	  AND GREATEST(similarity(c.primary_name, q.name), COALESCE(similarity(c.local_name, q.name), 0)) > $2
	ORDER BY q.idx, score DESC, c.id`

// setSimilarityThreshold scopes the % operator threshold to the current transaction.
const setSimilarityThreshold = `SELECT set_config('pg_trgm.similarity_threshold', $1, true)`

// FindByNameContainment runs one batched containment lookup for all names. QueryIndex of each
// candidate is the index into names.
func (r *CatalogRepository) FindByNameContainment(ctx context.Context, names []string) ([]models.NameCandidate, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, containmentQuery, names)
	if err != nil {
		return nil, fmt.Errorf("catalog containment lookup: %w", err)
	}
	defer rows.Close()

	var out []models.NameCandidate

	for rows.Next() {
		var (
			idx int64
			c   models.NameCandidate
		)

		if err := rows.Scan(&idx, &c.Entity.ID, &c.Entity.PrimaryName, &c.Entity.LocalName,
			&c.Entity.Categories, &c.Entity.Region, &c.Entity.Description); err != nil {
			return nil, fmt.Errorf("scan catalog candidate: %w", err)
		}

		c.QueryIndex = int(idx - 1)
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating catalog candidates: %w", err)
	}

	return out, nil
}

// FuzzyMatch runs one batched trigram query and returns at most one candidate per name, only when
// its score is strictly above threshold.
func (r *CatalogRepository) FuzzyMatch(ctx context.Context, names []string, threshold float64) ([]models.FuzzyCandidate, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var out []models.FuzzyCandidate

	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, setSimilarityThreshold, strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
			return fmt.Errorf("set similarity threshold: %w", err)
		}

		rows, err := tx.Query(ctx, fuzzyQuery, names, threshold)
		if err != nil {
			return fmt.Errorf("catalog fuzzy match: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				idx   int64
				score float32
				c     models.FuzzyCandidate
			)

			if err := rows.Scan(&idx, &c.EntityID, &score); err != nil {
				return fmt.Errorf("scan fuzzy candidate: %w", err)
			}

			c.QueryIndex = int(idx - 1)
			c.Score = float64(score)
			out = append(out, c)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating fuzzy candidates: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// buildCandidatesQuery selects catalog rows overlapping filter.Categories in filter.Region.
// Empty categories select by region only; an empty region does not filter.
func buildCandidatesQuery(filter models.CatalogFilter) (string, []any, error) {
	if filter.Limit <= 0 {
		return "", nil, errors.New("limit must be positive")
	}

	query := `SELECT ` + catalogColumns + ` FROM catalog_places c WHERE TRUE`

	var args []any

	if len(filter.Categories) > 0 {
		args = append(args, filter.Categories)
		query += fmt.Sprintf(" AND c.categories && $%d::text[]", len(args))
	}

	if filter.Region != "" {
		args = append(args, filter.Region)
		query += fmt.Sprintf(" AND lower(c.region) = lower($%d)", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY c.id LIMIT $%d", len(args))

	return query, args, nil
}

// Candidates returns catalog rows for prompt grounding.
func (r *CatalogRepository) Candidates(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntity, error) {
	query, args, err := buildCandidatesQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("catalog candidates: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog candidates: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanCatalogEntity)
	if err != nil {
		return nil, fmt.Errorf("scan catalog candidates: %w", err)
	}

	return out, nil
}

func scanCatalogEntity(row pgx.CollectableRow) (models.CatalogEntity, error) {
	var e models.CatalogEntity

	err := row.Scan(&e.ID, &e.PrimaryName, &e.LocalName, &e.Categories, &e.Region, &e.Description)

	return e, err
}
