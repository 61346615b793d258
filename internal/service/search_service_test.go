package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/pkg/cache"
)

type recordingCacheMetrics struct {
	hits, misses atomic.Int32
}

func (r *recordingCacheMetrics) RecordHit(context.Context, string)    { r.hits.Add(1) }
func (r *recordingCacheMetrics) RecordMiss(context.Context, string)   { r.misses.Add(1) }
func (r *recordingCacheMetrics) ObserveSize(string, func() int) error { return nil }

func TestSearchService_SearchSimilar(t *testing.T) {
	ctx := context.Background()

	t.Run("post-filters by min similarity, clamps and orders", func(t *testing.T) {
		svc := NewSearchService(SearchServiceParams{
			Embedder: &mockEmbedder{},
			Corpus: &mockCorpusSearcher{searchFunc: func(_ context.Context, p models.SearchParams) ([]models.ScoredDocument, error) {
				assert.InDelta(t, 0.3, p.MinSimilarity, 1e-9)

				return []models.ScoredDocument{
					doc("a", 0.5, ""),
					doc("b", 1.2, ""),
					doc("c", 0.29, ""),
					doc("d", 0.7, ""),
				}, nil
			}},
		})

		got := svc.SearchSimilar(ctx, models.SearchParams{Embedding: []float32{1}, Limit: 10, MinSimilarity: 0.3})

		require.Len(t, got, 3)
		assert.Equal(t, "b", got[0].ID)
		assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
		assert.Equal(t, "d", got[1].ID)
		assert.Equal(t, "a", got[2].ID)
	})

	t.Run("store error yields empty slice", func(t *testing.T) {
		svc := NewSearchService(SearchServiceParams{
			Embedder: &mockEmbedder{},
			Corpus: &mockCorpusSearcher{searchFunc: func(context.Context, models.SearchParams) ([]models.ScoredDocument, error) {
				return nil, errors.New("connection refused")
			}},
		})

		got := svc.SearchSimilar(ctx, models.SearchParams{Embedding: []float32{1}, Limit: 10})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("no rows yields empty slice", func(t *testing.T) {
		svc := NewSearchService(SearchServiceParams{Embedder: &mockEmbedder{}, Corpus: &mockCorpusSearcher{}})

		got := svc.SearchSimilar(ctx, models.SearchParams{Embedding: []float32{1}, Limit: 10})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestSearchService_SearchCorpora(t *testing.T) {
	var calls atomic.Int32

	svc := NewSearchService(SearchServiceParams{
		Embedder: &mockEmbedder{},
		Corpus: &mockCorpusSearcher{searchFunc: func(_ context.Context, p models.SearchParams) ([]models.ScoredDocument, error) {
			calls.Add(1)
			assert.Equal(t, []float32{0.5, 0.5}, p.Embedding)

			return []models.ScoredDocument{doc(string(p.SourceTypes[0]), 0.9, "")}, nil
		}},
	})

	got := svc.SearchCorpora(context.Background(), []float32{0.5, 0.5}, []models.SearchParams{
		{SourceTypes: []models.SourceType{models.SourceKnowledgeEntry}, Limit: 5},
		{SourceTypes: []models.SourceType{models.SourceCorrespondence}, Limit: 5},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "knowledge_entry", got[0][0].ID)
	assert.Equal(t, "correspondence", got[1][0].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchService_EmbedQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("without cache calls the embedder every time", func(t *testing.T) {
		emb := &mockEmbedder{}
		svc := NewSearchService(SearchServiceParams{Embedder: emb, Corpus: &mockCorpusSearcher{}})

		svc.EmbedQuery(ctx, "seoul palaces")
		svc.EmbedQuery(ctx, "seoul palaces")

		assert.Equal(t, 2, emb.callCount())
	})

	t.Run("cache hit skips the embedder", func(t *testing.T) {
		emb := &mockEmbedder{}
		qc, err := cache.NewLoaderCache[string, []float32]("query", 10, time.Minute, func(s string) string { return s })
		require.NoError(t, err)

		metrics := &recordingCacheMetrics{}
		svc := NewSearchService(SearchServiceParams{Embedder: emb, Corpus: &mockCorpusSearcher{}, QueryCache: qc, CacheMetrics: metrics})

		first := svc.EmbedQuery(ctx, "seoul palaces")
		second := svc.EmbedQuery(ctx, "seoul palaces")

		assert.Equal(t, first, second)
		assert.Equal(t, 1, emb.callCount())
		assert.Equal(t, int32(1), metrics.hits.Load())
		assert.Equal(t, int32(1), metrics.misses.Load())

		_, ok := qc.Peek("test-model:seoul palaces")
		assert.True(t, ok)
	})

	t.Run("nil embedding is not cached", func(t *testing.T) {
		emb := &mockEmbedder{generateFunc: func(context.Context, string) []float32 { return nil }}
		qc, err := cache.NewLoaderCache[string, []float32]("query", 10, time.Minute, func(s string) string { return s })
		require.NoError(t, err)

		svc := NewSearchService(SearchServiceParams{Embedder: emb, Corpus: &mockCorpusSearcher{}, QueryCache: qc})

		assert.Nil(t, svc.EmbedQuery(ctx, "x"))
		assert.Nil(t, svc.EmbedQuery(ctx, "x"))
		assert.Equal(t, 2, emb.callCount())
		assert.Zero(t, qc.Len())
	})

	t.Run("cancelled request does not fail a concurrent one", func(t *testing.T) {
		var (
			loading = make(chan struct{})
			release = make(chan struct{})
			once    sync.Once
		)

		emb := &mockEmbedder{generateFunc: func(ctx context.Context, _ string) []float32 {
			once.Do(func() { close(loading) })
			<-release

			if ctx.Err() != nil {
				return nil
			}

			return []float32{0.6, 0.8}
		}}
		qc, err := cache.NewLoaderCache[string, []float32]("query", 10, time.Minute, func(s string) string { return s })
		require.NoError(t, err)

		svc := NewSearchService(SearchServiceParams{Embedder: emb, Corpus: &mockCorpusSearcher{}, QueryCache: qc})

		cancelled, cancel := context.WithCancel(ctx)

		var (
			wg  sync.WaitGroup
			got []float32
		)

		wg.Go(func() { svc.EmbedQuery(cancelled, "kyoto temples") })
		<-loading
		wg.Go(func() { got = svc.EmbedQuery(ctx, "kyoto temples") })

		time.Sleep(10 * time.Millisecond)
		cancel()
		close(release)
		wg.Wait()

		assert.Equal(t, []float32{0.6, 0.8}, got)
	})
}
