package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
)

func TestGroupDuplicates(t *testing.T) {
	t.Run("merges transitively and keeps max similarity", func(t *testing.T) {
		groups := groupDuplicates([]duplicateEdge{
			{a: "c", b: "b", similarity: 0.93},
			{a: "b", b: "a", similarity: 0.97},
			{a: "x", b: "y", similarity: 0.99},
			{a: "a", b: "b", similarity: 0.97},
		})

		require.Len(t, groups, 2)
		assert.Equal(t, []string{"x", "y"}, groups[0].MemberIDs)
		assert.InDelta(t, 0.99, groups[0].MaxSimilarity, 1e-9)
		assert.Equal(t, []string{"a", "b", "c"}, groups[1].MemberIDs)
		assert.InDelta(t, 0.97, groups[1].MaxSimilarity, 1e-9)
	})

	t.Run("ties sort by first member", func(t *testing.T) {
		groups := groupDuplicates([]duplicateEdge{
			{a: "q", b: "r", similarity: 0.95},
			{a: "d", b: "e", similarity: 0.95},
		})

		require.Len(t, groups, 2)
		assert.Equal(t, "d", groups[0].MemberIDs[0])
	})

	t.Run("no edges", func(t *testing.T) {
		groups := groupDuplicates(nil)
		assert.NotNil(t, groups)
		assert.Empty(t, groups)
	})
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind()
	uf.union("a", "b")
	uf.union("c", "d")
	uf.union("b", "d")

	assert.Equal(t, uf.find("a"), uf.find("c"))
	assert.NotEqual(t, uf.find("a"), uf.find("z"))
	assert.Equal(t, "z", uf.find("z"))
}

func TestDuplicateService_FindDuplicates(t *testing.T) {
	ctx := context.Background()

	docs := []models.LabeledEmbedding{
		{ID: "d1", Embedding: []float32{1, 0}},
		{ID: "d2", Embedding: []float32{1, 0}},
		{ID: "d3", Embedding: []float32{0, 1}},
		{ID: "d4", Embedding: []float32{0, 1}},
	}

	neighbours := map[string][]models.ScoredDocument{
		"d1": {doc("d2", 0.98, ""), doc("d1", 1, "")},
		"d2": {doc("d1", 0.98, "")},
		"d3": {doc("d4", 0.5, "")},
	}

	store := &mockEmbeddedStore{listFunc: func(_ context.Context, st models.SourceType) ([]models.LabeledEmbedding, error) {
		assert.Equal(t, models.SourceCorrespondence, st)

		return docs, nil
	}}
	search := &mockCorpusSearcher{searchFunc: func(_ context.Context, p models.SearchParams) ([]models.ScoredDocument, error) {
		assert.InDelta(t, 0.9, p.MinSimilarity, 1e-9)
		assert.Equal(t, 3, p.Limit)

		if p.ExcludeID == "d4" {
			return nil, errors.New("timeout")
		}

		return neighbours[p.ExcludeID], nil
	}}

	svc := NewDuplicateService(DuplicateServiceParams{
		Documents:   store,
		Search:      search,
		Threshold:   0.9,
		Neighbors:   3,
		Concurrency: 2,
	})

	groups, err := svc.FindDuplicates(ctx, models.SourceCorrespondence)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"d1", "d2"}, groups[0].MemberIDs)
	assert.InDelta(t, 0.98, groups[0].MaxSimilarity, 1e-9)

	t.Run("rejects unknown source type", func(t *testing.T) {
		_, err := svc.FindDuplicates(ctx, models.SourceType("emails"))
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("list failure", func(t *testing.T) {
		failing := NewDuplicateService(DuplicateServiceParams{
			Documents: &mockEmbeddedStore{listFunc: func(context.Context, models.SourceType) ([]models.LabeledEmbedding, error) {
				return nil, errors.New("db down")
			}},
			Search: search,
		})

		_, err := failing.FindDuplicates(ctx, models.SourceTour)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := svc.FindDuplicates(cctx, models.SourceCorrespondence)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
