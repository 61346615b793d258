package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/interests"
	"github.com/tripdesk/groundwork/internal/llmjson"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
)

const maxTripDays = 30

// QuerySearcher embeds query texts and searches the corpora.
type QuerySearcher interface {
	EmbedQuery(ctx context.Context, text string) []float32
	SearchSimilar(ctx context.Context, params models.SearchParams) []models.ScoredDocument
}

// CatalogCandidateSource lists catalog rows for prompt grounding.
type CatalogCandidateSource interface {
	Candidates(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntity, error)
}

// Completer runs one chat completion.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

// PlaceResolver resolves free-text place names against the catalog.
type PlaceResolver interface {
	MatchPlaces(ctx context.Context, queries []models.PlaceQuery) []models.MatchResult
}

// DraftConfig holds the retrieval knobs of the draft pipeline.
type DraftConfig struct {
	TopK                int
	CandidateMultiplier int
	MinSimilarity       float64
	ItineraryLimit      int
	CatalogFloor        int
	CatalogLimit        int
}

func (c DraftConfig) withDefaults() DraftConfig {
	if c.TopK <= 0 {
		c.TopK = 5
	}

	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 3
	}

	if c.ItineraryLimit <= 0 {
		c.ItineraryLimit = 3
	}

	if c.CatalogFloor < 0 {
		c.CatalogFloor = 0
	}

	if c.CatalogLimit <= 0 {
		c.CatalogLimit = 40
	}

	return c
}

// DraftService runs the itinerary draft pipeline.
type DraftService struct {
	interests *interests.Dictionary
	search    QuerySearcher
	catalog   CatalogCandidateSource
	completer Completer
	matcher   PlaceResolver
	reranker  *Reranker
	cfg       DraftConfig
	metrics   observability.PipelineMetrics
	logger    *slog.Logger
}

// DraftServiceParams configures DraftService. Interests defaults to the built-in dictionary,
// Reranker to the default draft weights. Metrics may be nil.
type DraftServiceParams struct {
	Interests *interests.Dictionary
	Search    QuerySearcher
	Catalog   CatalogCandidateSource
	Completer Completer
	Matcher   PlaceResolver
	Reranker  *Reranker
	Config    DraftConfig
	Metrics   observability.PipelineMetrics
	Logger    *slog.Logger
}

// NewDraftService creates a DraftService.
func NewDraftService(p DraftServiceParams) *DraftService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dict := p.Interests
	if dict == nil {
		dict = interests.Default()
	}

	reranker := p.Reranker
	if reranker == nil {
		reranker = NewReranker(DefaultVectorWeight, DefaultLexicalWeight)
	}

	return &DraftService{
		interests: dict,
		search:    p.Search,
		catalog:   p.Catalog,
		completer: p.Completer,
		matcher:   p.Matcher,
		reranker:  reranker,
		cfg:       p.Config.withDefaults(),
		metrics:   p.Metrics,
		logger:    logger,
	}
}

func validateTripRequest(req models.TripRequest) error {
	if req.DurationDays < 1 || req.DurationDays > maxTripDays {
		return apperrors.NewValidationError("duration_days", fmt.Sprintf("duration_days must be between 1 and %d", maxTripDays))
	}

	if req.Adults < 0 || req.Children < 0 {
		return apperrors.NewValidationError("party", "adults and children must not be negative")
	}

	return nil
}

// GenerateDraft runs the pipeline for req. The only error is a validation error; every other
// failure is reported through DraftResult.AbortReason with Draft nil and Run populated.
func (s *DraftService) GenerateDraft(ctx context.Context, req models.TripRequest) (*models.DraftResult, error) {
	if err := validateTripRequest(req); err != nil {
		return nil, err
	}

	ctx = observability.WithLogAttrs(ctx, slog.String("pipeline", pipelineDraft))
	rec := newRunRecorder(pipelineDraft, s.metrics)
	result := &models.DraftResult{Rerank: []models.RerankDiagnostic{}}

	abort := func(reason string) (*models.DraftResult, error) {
		result.AbortReason = reason
		result.Run = rec.finish(ctx, reason)

		s.logger.Info("draft: aborted",
			"run_id", result.Run.ID,
			"reason", reason,
			"elapsed", result.Run.Elapsed,
		)

		return result, nil
	}

	// 1. expand interests
	st := rec.begin(ctx, models.StageExpand)
	expanded := s.interests.Expand(req.SubTags, req.MainTags)
	keywords := interests.Keywords(expanded)
	categories := s.interests.Categories(req.SubTags, req.MainTags)
	st.rec.Count = len(keywords)
	st.end(nil)

	// 2. query text
	st = rec.begin(ctx, models.StageQueryText)
	queryText := BuildQueryText(req, expanded)
	result.Query = models.RetrievalQuery{
		RawText:      BuildQueryText(req, strings.Join(append(append([]string{}, req.SubTags...), req.MainTags...), ", ")),
		ExpandedText: queryText,
	}
	st.rec.Count = len(queryText)
	st.end(nil)

	// 3. exactly one embedding
	st = rec.begin(ctx, models.StageEmbed)
	embedding := s.search.EmbedQuery(st.ctx, queryText)
	st.rec.Count = len(embedding)

	if embedding == nil {
		st.end(ErrNoEmbedding)

		if ctx.Err() != nil {
			return abort(models.AbortCancelled)
		}

		return abort(models.AbortNoEmbedding)
	}

	st.end(nil)
	result.Query.Embedding = embedding

	// 4. concurrent retrieval
	correspondence, itineraries, catalog := s.retrieve(ctx, rec, embedding, req.Region, categories)

	if ctx.Err() != nil {
		return abort(models.AbortCancelled)
	}

	if len(correspondence) == 0 {
		s.logger.Warn("draft: no correspondence above similarity floor",
			"run_id", rec.run.ID,
			"min_similarity", s.cfg.MinSimilarity,
			"query_chars", len(queryText),
		)

		return abort(models.AbortNoCandidates)
	}

	// 5. rerank
	st = rec.begin(ctx, models.StageRerank)
	reranked := s.reranker.Rerank(correspondence, keywords, s.cfg.TopK)
	result.Rerank = reranked.Diagnostics
	st.rec.Count = len(reranked.Ordered)

	for _, d := range reranked.Diagnostics[:len(reranked.Ordered)] {
		st.rec.Scores = append(st.rec.Scores, d.FinalScore)
	}

	st.end(nil)

	// 6. prompt
	st = rec.begin(ctx, models.StagePrompt)
	system, prompt := BuildDraftPrompt(DraftPromptInput{
		Request:        req,
		Interests:      expanded,
		Correspondence: reranked.Ordered,
		Itineraries:    itineraries,
		Catalog:        catalog,
	})
	st.rec.Count = len(prompt)
	st.end(nil)

	// 7. completion
	st = rec.begin(ctx, models.StageComplete)
	raw, err := s.completer.Complete(st.ctx, completion.Request{System: system, Prompt: prompt})
	st.rec.Count = len(raw)
	st.end(err)

	if err != nil {
		if ctx.Err() != nil {
			return abort(models.AbortCancelled)
		}

		s.logger.Error("draft: completion failed",
			"run_id", rec.run.ID,
			"error", err,
			"prompt_chars", len(prompt),
		)

		return abort(models.AbortCompletionFailed)
	}

	// 8. defensive parse
	st = rec.begin(ctx, models.StageParse)

	var resp draftResponse

	err = llmjson.Parse(raw, &resp)
	if err == nil && len(resp.Days) == 0 {
		err = fmt.Errorf("%w: no days", llmjson.ErrUnparseable)
	}

	st.rec.Count = len(resp.Days)
	st.end(err)

	if err != nil {
		s.logger.Warn("draft: unparseable completion",
			"run_id", rec.run.ID,
			"error", err,
			"response_chars", len(raw),
		)

		return abort(models.AbortUnparseable)
	}

	// 9. match places
	st = rec.begin(ctx, models.StageMatch)
	queries := placeQueries(resp, catalog)
	matches := s.matcher.MatchPlaces(st.ctx, queries)
	st.rec.Count = len(matches)
	st.end(nil)

	// 10. assemble
	st = rec.begin(ctx, models.StageAssemble)
	draft := assembleDraft(resp, matches)
	draft.Provenance.CorrespondenceIDs = documentIDs(reranked.Ordered)
	draft.Provenance.ItineraryIDs = documentIDs(itineraries)
	st.rec.Count = len(draft.Days)
	st.extra("tbd", float64(draft.TBDCount()))
	st.end(nil)

	result.Draft = draft
	result.Run = rec.finish(ctx, "")

	s.logger.Info("draft: generated",
		"run_id", result.Run.ID,
		"days", len(draft.Days),
		"tbd", draft.TBDCount(),
		"elapsed", result.Run.Elapsed,
	)

	return result, nil
}

// retrieve runs the correspondence, itinerary and catalog lookups concurrently with one embedding.
func (s *DraftService) retrieve(
	ctx context.Context, rec *runRecorder, embedding []float32, region string, categories []string,
) (correspondence, itineraries []models.ScoredDocument, catalog []models.CatalogEntity) {
	parent := rec.begin(ctx, models.StageRetrieve)

	var g errgroup.Group

	g.Go(func() error {
		st := rec.begin(parent.ctx, models.StageCorrespond)
		correspondence = s.search.SearchSimilar(st.ctx, models.SearchParams{
			Embedding:     embedding,
			SourceTypes:   []models.SourceType{models.SourceCorrespondence},
			Limit:         s.cfg.TopK * s.cfg.CandidateMultiplier,
			MinSimilarity: s.cfg.MinSimilarity,
		})
		st.rec.Count = len(correspondence)
		st.rec.Scores = similarities(correspondence)
		st.end(nil)

		return nil
	})

	g.Go(func() error {
		st := rec.begin(parent.ctx, models.StageItinerary)
		itineraries = s.search.SearchSimilar(st.ctx, models.SearchParams{
			Embedding:   embedding,
			SourceTypes: []models.SourceType{models.SourcePastItinerary},
			Limit:       s.cfg.ItineraryLimit,
		})
		st.rec.Count = len(itineraries)
		st.rec.Scores = similarities(itineraries)
		st.end(nil)

		return nil
	})

	g.Go(func() error {
		st := rec.begin(parent.ctx, models.StageCatalog)

		var fallback bool

		catalog, fallback = s.catalogCandidates(st.ctx, region, categories)
		st.rec.Count = len(catalog)

		if fallback {
			st.extra("region_fallback", 1)
		}

		st.end(nil)

		return nil
	})

	_ = g.Wait()

	parent.rec.Count = len(correspondence) + len(itineraries) + len(catalog)
	parent.end(nil)

	return correspondence, itineraries, catalog
}

// catalogCandidates selects by interest categories and region, topping up with region-only rows
// when fewer than CatalogFloor come back. Lookup failures are logged and yield fewer rows.
func (s *DraftService) catalogCandidates(
	ctx context.Context, region string, categories []string,
) ([]models.CatalogEntity, bool) {
	var out []models.CatalogEntity

	if len(categories) > 0 {
		rows, err := s.catalog.Candidates(ctx, models.CatalogFilter{
			Categories: categories,
			Region:     region,
			Limit:      s.cfg.CatalogLimit,
		})
		if err != nil {
			s.logger.Warn("draft: catalog lookup by category failed", "error", err, "region", region)
		}

		out = rows
	}

	if len(out) >= s.cfg.CatalogFloor || strings.TrimSpace(region) == "" {
		return out, false
	}

	rows, err := s.catalog.Candidates(ctx, models.CatalogFilter{Region: region, Limit: s.cfg.CatalogLimit})
	if err != nil {
		s.logger.Warn("draft: region-only catalog lookup failed", "error", err, "region", region)

		return out, true
	}

	seen := make(map[int64]bool, len(out))
	for _, e := range out {
		seen[e.ID] = true
	}

	for _, e := range rows {
		if len(out) >= s.cfg.CatalogLimit {
			break
		}

		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}

	return out, true
}

type draftResponse struct {
	Days []draftResponseDay `json:"days"`
}

type draftResponseDay struct {
	Day   int                 `json:"day"`
	Title string              `json:"title"`
	Items []draftResponseItem `json:"items"`
}

type draftResponseItem struct {
	Slot      string     `json:"slot"`
	PlaceName string     `json:"place_name"`
	LocalName string     `json:"local_name"`
	PlaceID   flexibleID `json:"place_id"`
	Note      string     `json:"note"`
}

// flexibleID accepts a number, a numeric string or null. Anything else decodes as no id.
type flexibleID struct {
	value *int64
}

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = []byte(strings.TrimSpace(s))
	}

	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil && n > 0 {
		f.value = &n
	}

	return nil
}

// placeQueries builds one query per item in document order. A model-supplied id counts as
// provided only when it names a catalog row that was in the prompt.
func placeQueries(resp draftResponse, catalog []models.CatalogEntity) []models.PlaceQuery {
	known := make(map[int64]bool, len(catalog))
	for _, e := range catalog {
		known[e.ID] = true
	}

	var out []models.PlaceQuery

	for _, day := range resp.Days {
		for _, item := range day.Items {
			q := models.PlaceQuery{Name: item.PlaceName, LocalName: item.LocalName}
			if id := item.PlaceID.value; id != nil && known[*id] {
				q.ProvidedID = id
			}

			out = append(out, q)
		}
	}

	return out
}

// assembleDraft zips the parsed days with the match results produced by placeQueries.
func assembleDraft(resp draftResponse, matches []models.MatchResult) *models.Draft {
	draft := &models.Draft{
		Days: make([]models.DraftDay, 0, len(resp.Days)),
		Provenance: models.Provenance{
			CorrespondenceIDs: []string{},
			ItineraryIDs:      []string{},
			CatalogIDs:        []int64{},
		},
	}

	seenCatalog := make(map[int64]bool)
	i := 0

	for di, day := range resp.Days {
		dd := models.DraftDay{Day: day.Day, Title: day.Title, Items: make([]models.DraftItem, 0, len(day.Items))}
		if dd.Day <= 0 {
			dd.Day = di + 1
		}

		for _, item := range day.Items {
			m := models.MatchResult{Tier: models.TierUnmatched}
			if i < len(matches) {
				m = matches[i]
			}

			i++

			out := models.DraftItem{
				Slot:      item.Slot,
				PlaceName: item.PlaceName,
				LocalName: item.LocalName,
				PlaceID:   m.MatchedEntityID,
				Note:      item.Note,
				Match:     m.Tier,
				Score:     m.Score,
				TBD:       !m.Resolved(),
			}

			if id := m.MatchedEntityID; id != nil && !seenCatalog[*id] {
				seenCatalog[*id] = true
				draft.Provenance.CatalogIDs = append(draft.Provenance.CatalogIDs, *id)
			}

			dd.Items = append(dd.Items, out)
		}

		draft.Days = append(draft.Days, dd)
	}

	return draft
}
