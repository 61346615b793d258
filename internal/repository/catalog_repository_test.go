package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/models"
)

func TestBuildCandidatesQuery(t *testing.T) {
	t.Run("requires positive limit", func(t *testing.T) {
		_, _, err := buildCandidatesQuery(models.CatalogFilter{})
		assert.Error(t, err)
	})

	t.Run("categories and region", func(t *testing.T) {
		query, args, err := buildCandidatesQuery(models.CatalogFilter{
			Categories: []string{"kpop", "shopping"},
			Region:     "Seoul",
			Limit:      30,
		})

		require.NoError(t, err)
		require.Len(t, args, 3)
		assert.Contains(t, query, "c.categories && $1::text[]")
		assert.Contains(t, query, "lower(c.region) = lower($2)")
		assert.Contains(t, query, "LIMIT $3")
		assert.Equal(t, []string{"kpop", "shopping"}, args[0])
		assert.Equal(t, "Seoul", args[1])
		assert.Equal(t, 30, args[2])
	})

	t.Run("region only fallback", func(t *testing.T) {
		query, args, err := buildCandidatesQuery(models.CatalogFilter{Region: "Busan", Limit: 30})

		require.NoError(t, err)
		require.Len(t, args, 2)
		assert.NotContains(t, query, "&&")
		assert.Contains(t, query, "lower(c.region) = lower($1)")
	})
}

func TestCatalogQueries(t *testing.T) {
	assert.Contains(t, containmentQuery, "WITH ORDINALITY")
	assert.Contains(t, containmentQuery, "strpos(lower(q.name), lower(c.primary_name)) > 0")
	assert.Contains(t, fuzzyQuery, "DISTINCT ON (q.idx)")
	assert.Contains(t, fuzzyQuery, "> $2")
	assert.Contains(t, fuzzyQuery, "c.primary_name % q.name OR c.local_name % q.name")
	assert.NotContains(t, fuzzyQuery, "CROSS JOIN")
}
