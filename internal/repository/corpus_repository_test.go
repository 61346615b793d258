package repository

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/models"
)

func TestBuildSimilarityQuery(t *testing.T) {
	emb := []float32{0.1, 0.2, 0.3}

	t.Run("requires embedding", func(t *testing.T) {
		query, args, err := buildSimilarityQuery(models.SearchParams{Limit: 5})

		assert.Error(t, err)
		assert.Nil(t, args)
		assert.Empty(t, query)
	})

	t.Run("requires positive limit", func(t *testing.T) {
		_, _, err := buildSimilarityQuery(models.SearchParams{Embedding: emb})

		assert.ErrorContains(t, err, "limit must be positive")
	})

	t.Run("builds basic query", func(t *testing.T) {
		query, args, err := buildSimilarityQuery(models.SearchParams{Embedding: emb, Limit: 5})

		require.NoError(t, err)
		require.Len(t, args, 2) // embedding + limit

		assert.Contains(t, query, "(1 - (embedding <=> $1)) AS similarity")
		assert.Contains(t, query, "embedding IS NOT NULL")
		assert.Contains(t, query, "ORDER BY embedding <=> $1, id")
		assert.Contains(t, query, "LIMIT $2")
		assert.NotContains(t, query, "source_type = ANY")

		assert.Equal(t, pgvector.NewVector(emb), args[0])
		assert.Equal(t, 5, args[1])
	})

	t.Run("includes every filter", func(t *testing.T) {
		query, args, err := buildSimilarityQuery(models.SearchParams{
			Embedding:     emb,
			SourceTypes:   []models.SourceType{models.SourceCorrespondence, models.SourcePastItinerary},
			Limit:         15,
			MinSimilarity: 0.3,
			ExcludeID:     "doc-1",
		})

		require.NoError(t, err)
		require.Len(t, args, 5)

		assert.Contains(t, query, "source_type = ANY($2)")
		assert.Contains(t, query, "id != $3")
		assert.Contains(t, query, "(1 - (embedding <=> $1)) >= $4")
		assert.Contains(t, query, "LIMIT $5")

		assert.Equal(t, []string{"correspondence", "past_itinerary"}, args[1])
		assert.Equal(t, "doc-1", args[2])
		assert.InDelta(t, 0.3, args[3], 1e-9)
		assert.Equal(t, 15, args[4])
	})
}

func TestNullableEmbedding_Scan(t *testing.T) {
	t.Run("nil source", func(t *testing.T) {
		n := nullableEmbedding{1}
		require.NoError(t, n.Scan(nil))
		assert.Nil(t, n)
	})

	t.Run("empty buffer", func(t *testing.T) {
		var n nullableEmbedding
		require.NoError(t, n.Scan([]byte{}))
		assert.Nil(t, n)
	})

	t.Run("wrong type", func(t *testing.T) {
		var n nullableEmbedding
		assert.ErrorIs(t, n.Scan(42), errEmbeddingScanInvalidType)
	})

	t.Run("text vector", func(t *testing.T) {
		var n nullableEmbedding
		require.NoError(t, n.Scan("[1,2.5,3]"))
		assert.Equal(t, nullableEmbedding{1, 2.5, 3}, n)

		require.NoError(t, n.Scan([]byte("[4,5]")))
		assert.Equal(t, nullableEmbedding{4, 5}, n)
	})

	t.Run("decoded vector", func(t *testing.T) {
		var n nullableEmbedding
		require.NoError(t, n.Scan(pgvector.NewVector([]float32{7, 8})))
		assert.Equal(t, nullableEmbedding{7, 8}, n)
	})

	t.Run("binary vector", func(t *testing.T) {
		buf, err := pgvector.NewVector([]float32{1, 2, 3}).EncodeBinary(nil)
		require.NoError(t, err)

		var n nullableEmbedding
		require.NoError(t, n.Scan(buf))
		assert.Equal(t, nullableEmbedding{1, 2, 3}, n)
	})
}
