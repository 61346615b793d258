package service

import (
	"context"
	"sync"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/tripdesk/groundwork/internal/completion"
	"github.com/tripdesk/groundwork/internal/models"
)

type mockEmbedder struct {
	mu           sync.Mutex
	generateFunc func(ctx context.Context, text string) []float32
	calls        []string
}

func (m *mockEmbedder) Generate(ctx context.Context, text string) []float32 {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.generateFunc != nil {
		return m.generateFunc(ctx, text)
	}

	return []float32{0.1, 0.2}
}

func (m *mockEmbedder) Model() string { return "test-model" }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

type mockCorpusSearcher struct {
	searchFunc func(ctx context.Context, params models.SearchParams) ([]models.ScoredDocument, error)
}

func (m *mockCorpusSearcher) SearchSimilar(ctx context.Context, params models.SearchParams) ([]models.ScoredDocument, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, params)
	}

	return nil, nil
}

type mockQuerySearcher struct {
	embedFunc  func(ctx context.Context, text string) []float32
	searchFunc func(ctx context.Context, params models.SearchParams) []models.ScoredDocument
}

func (m *mockQuerySearcher) EmbedQuery(ctx context.Context, text string) []float32 {
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}

	return []float32{0.1, 0.2}
}

func (m *mockQuerySearcher) SearchSimilar(ctx context.Context, params models.SearchParams) []models.ScoredDocument {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, params)
	}

	return []models.ScoredDocument{}
}

func (m *mockQuerySearcher) SearchCorpora(
	ctx context.Context, embedding []float32, queries []models.SearchParams,
) [][]models.ScoredDocument {
	out := make([][]models.ScoredDocument, len(queries))
	for i, q := range queries {
		q.Embedding = embedding
		out[i] = m.SearchSimilar(ctx, q)
	}

	return out
}

type mockCatalog struct {
	candidatesFunc  func(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntity, error)
	containmentFunc func(ctx context.Context, names []string) ([]models.NameCandidate, error)
	fuzzyFunc       func(ctx context.Context, names []string, threshold float64) ([]models.FuzzyCandidate, error)

	mu           sync.Mutex
	filters      []models.CatalogFilter
	containNames [][]string
	fuzzyNames   [][]string
}

func (m *mockCatalog) Candidates(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntity, error) {
	m.mu.Lock()
	m.filters = append(m.filters, filter)
	m.mu.Unlock()

	if m.candidatesFunc != nil {
		return m.candidatesFunc(ctx, filter)
	}

	return nil, nil
}

func (m *mockCatalog) FindByNameContainment(ctx context.Context, names []string) ([]models.NameCandidate, error) {
	m.containNames = append(m.containNames, names)
	if m.containmentFunc != nil {
		return m.containmentFunc(ctx, names)
	}

	return nil, nil
}

func (m *mockCatalog) FuzzyMatch(ctx context.Context, names []string, threshold float64) ([]models.FuzzyCandidate, error) {
	m.fuzzyNames = append(m.fuzzyNames, names)
	if m.fuzzyFunc != nil {
		return m.fuzzyFunc(ctx, names, threshold)
	}

	return nil, nil
}

type mockCompleter struct {
	completeFunc func(ctx context.Context, req completion.Request) (string, error)
	requests     []completion.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req completion.Request) (string, error) {
	m.requests = append(m.requests, req)
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}

	return "", nil
}

type mockPlaceResolver struct {
	matchFunc func(ctx context.Context, queries []models.PlaceQuery) []models.MatchResult
	queries   []models.PlaceQuery
}

func (m *mockPlaceResolver) MatchPlaces(ctx context.Context, queries []models.PlaceQuery) []models.MatchResult {
	m.queries = queries
	if m.matchFunc != nil {
		return m.matchFunc(ctx, queries)
	}

	out := make([]models.MatchResult, len(queries))
	for i, q := range queries {
		out[i] = models.MatchResult{Tier: models.TierUnmatched}
		if q.ProvidedID != nil {
			out[i] = models.MatchResult{Tier: models.TierProvided, MatchedEntityID: q.ProvidedID}
		}
	}

	return out
}

type mockEmbeddedStore struct {
	listFunc func(ctx context.Context, st models.SourceType) ([]models.LabeledEmbedding, error)

	mu   sync.Mutex
	sets map[string]string
}

func (m *mockEmbeddedStore) ListEmbedded(ctx context.Context, st models.SourceType) ([]models.LabeledEmbedding, error) {
	return m.listFunc(ctx, st)
}

func (m *mockEmbeddedStore) SetCategory(_ context.Context, id, category, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sets == nil {
		m.sets = make(map[string]string)
	}

	m.sets[id] = category + "/" + source

	return nil
}

type mockTargetStore struct {
	listFunc func(ctx context.Context, st models.SourceType, model string) ([]models.EmbeddingTarget, error)
	setFunc  func(ctx context.Context, id string, embedding []float32, model, textHash string) error

	mu     sync.Mutex
	stored map[string]string
}

func (m *mockTargetStore) ListEmbeddingTargets(ctx context.Context, st models.SourceType, model string) ([]models.EmbeddingTarget, error) {
	return m.listFunc(ctx, st, model)
}

func (m *mockTargetStore) SetEmbedding(ctx context.Context, id string, embedding []float32, model, textHash string) error {
	if m.setFunc != nil {
		if err := m.setFunc(ctx, id, embedding, model, textHash); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stored == nil {
		m.stored = make(map[string]string)
	}

	m.stored[id] = textHash

	return nil
}

type mockJobInserter struct {
	insertFunc func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	args       []river.JobArgs
	opts       []*river.InsertOpts
}

func (m *mockJobInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	m.args = append(m.args, args)
	m.opts = append(m.opts, opts)

	if m.insertFunc != nil {
		return m.insertFunc(ctx, args, opts)
	}

	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{}}, nil
}

func doc(id string, sim float64, text string) models.ScoredDocument {
	return models.ScoredDocument{ID: id, Similarity: sim, Text: text}
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }
