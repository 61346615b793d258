package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/pkg/cache"
	vec "github.com/tripdesk/groundwork/pkg/embeddings"
)

const queryEmbeddingCacheName = "query_embedding"

// ErrNoEmbedding is returned by loaders when the gateway produced no vector. It is never cached.
var ErrNoEmbedding = errors.New("no embedding")

// Embedder produces embeddings and never fails; nil means no embedding.
type Embedder interface {
	Generate(ctx context.Context, text string) []float32
	Model() string
}

// CorpusSearcher runs nearest-neighbour queries against the corpus store.
type CorpusSearcher interface {
	SearchSimilar(ctx context.Context, params models.SearchParams) ([]models.ScoredDocument, error)
}

// SearchService embeds queries and searches the corpora. Store failures degrade to empty results.
type SearchService struct {
	embedder     Embedder
	corpus       CorpusSearcher
	queryCache   *cache.LoaderCache[string, []float32]
	cacheMetrics observability.CacheMetrics
	logger       *slog.Logger
}

// SearchServiceParams configures SearchService. QueryCache and CacheMetrics may be nil (no caching).
type SearchServiceParams struct {
	Embedder     Embedder
	Corpus       CorpusSearcher
	QueryCache   *cache.LoaderCache[string, []float32]
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(p SearchServiceParams) *SearchService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SearchService{
		embedder:     p.Embedder,
		corpus:       p.Corpus,
		queryCache:   p.QueryCache,
		cacheMetrics: p.CacheMetrics,
		logger:       logger,
	}
}

// EmbedQuery returns the embedding for a query text, or nil when none could be produced.
// Successful embeddings are cached per model and text.
func (s *SearchService) EmbedQuery(ctx context.Context, text string) []float32 {
	if s.queryCache == nil {
		return s.embedder.Generate(ctx, text)
	}

	key := s.embedder.Model() + ":" + text

	embedding, hit, err := s.queryCache.GetWithStats(ctx, key, func(ctx context.Context, _ string) ([]float32, error) {
		if v := s.embedder.Generate(ctx, text); v != nil {
			return v, nil
		}

		return nil, ErrNoEmbedding
	})

	if s.cacheMetrics != nil {
		if hit {
			s.cacheMetrics.RecordHit(ctx, queryEmbeddingCacheName)
		} else {
			s.cacheMetrics.RecordMiss(ctx, queryEmbeddingCacheName)
		}
	}

	if err != nil {
		return nil
	}

	return embedding
}

// SearchSimilar returns documents with similarity >= params.MinSimilarity, most similar first.
// Any store error is logged and yields an empty slice; the caller decides whether empty is fatal.
func (s *SearchService) SearchSimilar(ctx context.Context, params models.SearchParams) []models.ScoredDocument {
	docs, err := s.corpus.SearchSimilar(ctx, params)
	if err != nil {
		s.logger.Error("search: similarity query failed",
			"error", err,
			"source_types", params.SourceTypes,
			"limit", params.Limit,
		)

		return []models.ScoredDocument{}
	}

	out := make([]models.ScoredDocument, 0, len(docs))

	for _, d := range docs {
		d.Similarity = vec.Clamp01(d.Similarity)
		if d.Similarity >= params.MinSimilarity {
			out = append(out, d)
		}
	}

	slices.SortStableFunc(out, func(a, b models.ScoredDocument) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})

	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}

	return out
}

// SearchCorpora runs one search per entry of queries concurrently, all with the same embedding.
// The embedding field of each entry is overwritten. Results are returned in query order.
func (s *SearchService) SearchCorpora(
	ctx context.Context, embedding []float32, queries []models.SearchParams,
) [][]models.ScoredDocument {
	results := make([][]models.ScoredDocument, len(queries))

	var g errgroup.Group

	for i, q := range queries {
		q.Embedding = embedding

		g.Go(func() error {
			results[i] = s.SearchSimilar(ctx, q)

			return nil
		})
	}

	_ = g.Wait()

	return results
}
