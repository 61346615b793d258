// Package repository provides data access for corpus documents and the place catalog.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
	vec "github.com/tripdesk/groundwork/pkg/embeddings"
)

// errEmbeddingScanInvalidType is returned when Scan receives a type it cannot decode.
var errEmbeddingScanInvalidType = errors.New("embedding: unsupported source type")

// nullableEmbedding scans a vector column that may be NULL without panicking (pgvector.Vector.Scan panics on empty/NULL).
// Binary, text ("[1,2,3]") and already decoded pgvector values are accepted.
type nullableEmbedding []float32

func (n *nullableEmbedding) Scan(src any) error {
	var v pgvector.Vector

	switch src := src.(type) {
	case nil:
		*n = nil

		return nil
	case pgvector.Vector:
		v = src
	case *pgvector.Vector:
		if src == nil {
			*n = nil

			return nil
		}

		v = *src
	case string:
		if src == "" {
			*n = nil

			return nil
		}

		if err := v.Scan(src); err != nil {
			return fmt.Errorf("embedding decode: %w", err)
		}
	case []byte:
		if len(src) == 0 {
			*n = nil

			return nil
		}

		// a binary vector starts with a uint16 dimension, never '[' for valid sizes
		var err error
		if src[0] == '[' {
			err = v.Scan(string(src))
		} else {
			err = v.DecodeBinary(src)
		}

		if err != nil {
			return fmt.Errorf("embedding decode: %w", err)
		}
	default:
		return fmt.Errorf("%w: got %T", errEmbeddingScanInvalidType, src)
	}

	*n = v.Slice()

	return nil
}

// textHashSQL computes the same hex sha256 as service.TextHash.
const textHashSQL = `encode(sha256(convert_to(text, 'UTF8')), 'hex')`

// CorpusRepository handles data access for corpus_documents.
type CorpusRepository struct {
	db *pgxpool.Pool
}

// NewCorpusRepository creates a new corpus repository.
func NewCorpusRepository(db *pgxpool.Pool) *CorpusRepository {
	return &CorpusRepository{db: db}
}

// buildSimilarityQuery builds the nearest-neighbour query for params.
// Similarity is 1 - cosine distance; rows without an embedding never match.
func buildSimilarityQuery(params models.SearchParams) (string, []any, error) {
	if len(params.Embedding) == 0 {
		return "", nil, errors.New("embedding is required")
	}

	if params.Limit <= 0 {
		return "", nil, errors.New("limit must be positive")
	}

	args := []any{pgvector.NewVector(params.Embedding)}
	conditions := []string{"embedding IS NOT NULL"}

	if len(params.SourceTypes) > 0 {
		types := make([]string, len(params.SourceTypes))
		for i, st := range params.SourceTypes {
			types[i] = string(st)
		}

		args = append(args, types)
		conditions = append(conditions, fmt.Sprintf("source_type = ANY($%d)", len(args)))
	}

	if params.ExcludeID != "" {
		args = append(args, params.ExcludeID)
		conditions = append(conditions, fmt.Sprintf("id != $%d", len(args)))
	}

	if params.MinSimilarity > 0 {
		args = append(args, params.MinSimilarity)
		conditions = append(conditions, fmt.Sprintf("(1 - (embedding <=> $1)) >= $%d", len(args)))
	}

	args = append(args, params.Limit)

	query := fmt.Sprintf(`
		SELECT id, source_type, text, (1 - (embedding <=> $1)) AS similarity, metadata
		FROM corpus_documents
		WHERE %s
		ORDER BY embedding <=> $1, id
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	return query, args, nil
}

// SearchSimilar returns the documents nearest to params.Embedding, most similar first.
// Zero qualifying rows yields an empty slice.
func (r *CorpusRepository) SearchSimilar(ctx context.Context, params models.SearchParams) ([]models.ScoredDocument, error) {
	query, args, err := buildSimilarityQuery(params)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	results := []models.ScoredDocument{}

	for rows.Next() {
		var doc models.ScoredDocument

		if err := rows.Scan(&doc.ID, &doc.SourceType, &doc.Text, &doc.Similarity, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("scan scored document: %w", err)
		}

		doc.Similarity = vec.Clamp01(doc.Similarity)
		results = append(results, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating similar documents: %w", err)
	}

	return results, nil
}

// Get returns one document including its embedding.
func (r *CorpusRepository) Get(ctx context.Context, id string) (*models.CorpusDocument, error) {
	var (
		doc models.CorpusDocument
		emb nullableEmbedding
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, source_type, text, embedding, embedding_model, text_hash,
			category, category_source, metadata, updated_at
		FROM corpus_documents
		WHERE id = $1`, id,
	).Scan(
		&doc.ID, &doc.SourceType, &doc.Text, &emb, &doc.EmbeddingModel, &doc.TextHash,
		&doc.Category, &doc.CategorySource, &doc.Metadata, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("corpus document", "corpus document not found")
		}

		return nil, fmt.Errorf("get corpus document: %w", err)
	}

	doc.Embedding = emb

	return &doc, nil
}

// ListEmbeddingTargets returns documents of sourceType whose embedding is missing, was computed
// by another model, or predates the current text.
func (r *CorpusRepository) ListEmbeddingTargets(
	ctx context.Context, sourceType models.SourceType, model string,
) ([]models.EmbeddingTarget, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, text, text_hash
		FROM corpus_documents
		WHERE source_type = $1 AND trim(text) != ''
		  AND (embedding IS NULL
		    OR embedding_model IS DISTINCT FROM $2
		    OR text_hash IS DISTINCT FROM `+textHashSQL+`)
		ORDER BY id`, string(sourceType), model)
	if err != nil {
		return nil, fmt.Errorf("list embedding targets: %w", err)
	}
	defer rows.Close()

	var targets []models.EmbeddingTarget

	for rows.Next() {
		var t models.EmbeddingTarget
		if err := rows.Scan(&t.ID, &t.Text, &t.TextHash); err != nil {
			return nil, fmt.Errorf("scan embedding target: %w", err)
		}

		targets = append(targets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedding targets: %w", err)
	}

	return targets, nil
}

// SetEmbedding stores the embedding computed from the text whose hash is textHash.
func (r *CorpusRepository) SetEmbedding(
	ctx context.Context, id string, embedding []float32, model, textHash string,
) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE corpus_documents
		SET embedding = $2, embedding_model = $3, text_hash = $4, updated_at = $5
		WHERE id = $1`,
		id, pgvector.NewVector(embedding), model, textHash, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("corpus document", "corpus document not found")
	}

	return nil
}

// ListEmbedded returns every embedded document of sourceType. Category is set only for human
// labels; automatic assignments from earlier runs are reported as unlabeled.
func (r *CorpusRepository) ListEmbedded(ctx context.Context, sourceType models.SourceType) ([]models.LabeledEmbedding, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, text,
			CASE WHEN category_source IS NULL OR category_source = 'manual' THEN category END,
			embedding
		FROM corpus_documents
		WHERE source_type = $1 AND embedding IS NOT NULL
		ORDER BY id`, string(sourceType))
	if err != nil {
		return nil, fmt.Errorf("list embedded documents: %w", err)
	}
	defer rows.Close()

	var out []models.LabeledEmbedding

	for rows.Next() {
		var (
			doc models.LabeledEmbedding
			emb nullableEmbedding
		)

		if err := rows.Scan(&doc.ID, &doc.Text, &doc.Category, &emb); err != nil {
			return nil, fmt.Errorf("scan embedded document: %w", err)
		}

		doc.Embedding = emb
		out = append(out, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedded documents: %w", err)
	}

	return out, nil
}

// SetCategory stores an automatic category assignment. Human labels are never overwritten.
func (r *CorpusRepository) SetCategory(ctx context.Context, id, category, source string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE corpus_documents
		SET category = $2, category_source = $3, updated_at = $4
		WHERE id = $1 AND (category IS NULL OR category_source IN ('centroid', 'llm'))`,
		id, category, source, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}

	return nil
}

const upsertDocumentSQL = `
	INSERT INTO corpus_documents (id, source_type, text, category, category_source, metadata)
	VALUES ($1, $2, $3, $4::text, CASE WHEN $4::text IS NULL THEN NULL ELSE 'manual' END, $5)
	ON CONFLICT (id) DO UPDATE SET
		source_type = EXCLUDED.source_type,
		text = EXCLUDED.text,
		category = COALESCE(EXCLUDED.category, corpus_documents.category),
		category_source = CASE WHEN EXCLUDED.category IS NULL
			THEN corpus_documents.category_source ELSE 'manual' END,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

// UpsertDocuments creates or replaces docs in one batch. Embeddings are left as they are; a
// changed text makes the document stale for the next backfill.
func (r *CorpusRepository) UpsertDocuments(ctx context.Context, docs []models.DocumentInput) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for _, d := range docs {
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}

		batch.Queue(upsertDocumentSQL, d.ID, string(d.SourceType), d.Text, d.Category, metadata)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, d := range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert document %s: %w", d.ID, err)
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}

	return nil
}
