package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/llmjson"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
)

const maxQuestionChars = 2000

// AnswerSearcher embeds a question and searches several corpora with the same embedding.
type AnswerSearcher interface {
	EmbedQuery(ctx context.Context, text string) []float32
	SearchCorpora(ctx context.Context, embedding []float32, queries []models.SearchParams) [][]models.ScoredDocument
}

// AnswerConfig holds the retrieval knobs of the FAQ pipeline.
type AnswerConfig struct {
	TopK                int
	CandidateMultiplier int
	MinSimilarity       float64
}

// AnswerService answers customer questions grounded in knowledge entries and past correspondence.
type AnswerService struct {
	search    AnswerSearcher
	completer Completer
	reranker  *Reranker
	cfg       AnswerConfig
	metrics   observability.PipelineMetrics
	logger    *slog.Logger
}

// AnswerServiceParams configures AnswerService. Reranker defaults to equal weights.
type AnswerServiceParams struct {
	Search    AnswerSearcher
	Completer Completer
	Reranker  *Reranker
	Config    AnswerConfig
	Metrics   observability.PipelineMetrics
	Logger    *slog.Logger
}

// NewAnswerService creates an AnswerService.
func NewAnswerService(p AnswerServiceParams) *AnswerService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reranker := p.Reranker
	if reranker == nil {
		reranker = NewReranker(AnswerVectorWeight, AnswerLexicalWeight)
	}

	cfg := p.Config
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}

	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 3
	}

	return &AnswerService{
		search:    p.Search,
		completer: p.Completer,
		reranker:  reranker,
		cfg:       cfg,
		metrics:   p.Metrics,
		logger:    logger,
	}
}

type answerResponse struct {
	Answer    string   `json:"answer"`
	SourceIDs []string `json:"source_ids"`
}

// Answer runs the FAQ pipeline. The only error is a validation error; every other failure is
// reported through AnswerResult.AbortReason.
func (s *AnswerService) Answer(ctx context.Context, question string) (*models.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.NewValidationError("question", "question is required")
	}

	if utf8.RuneCountInString(question) > maxQuestionChars {
		return nil, apperrors.NewValidationError("question", fmt.Sprintf("question must be at most %d characters", maxQuestionChars))
	}

	ctx = observability.WithLogAttrs(ctx, slog.String("pipeline", pipelineAnswer))
	rec := newRunRecorder(pipelineAnswer, s.metrics)
	result := &models.AnswerResult{Rerank: []models.RerankDiagnostic{}}

	abort := func(reason string) (*models.AnswerResult, error) {
		result.AbortReason = reason
		result.Run = rec.finish(ctx, reason)

		s.logger.Info("answer: aborted", "run_id", result.Run.ID, "reason", reason)

		return result, nil
	}

	st := rec.begin(ctx, models.StageEmbed)
	embedding := s.search.EmbedQuery(st.ctx, question)
	st.rec.Count = len(embedding)

	if embedding == nil {
		st.end(ErrNoEmbedding)

		if ctx.Err() != nil {
			return abort(models.AbortCancelled)
		}

		return abort(models.AbortNoEmbedding)
	}

	st.end(nil)

	st = rec.begin(ctx, models.StageRetrieve)
	limit := s.cfg.TopK * s.cfg.CandidateMultiplier
	found := s.search.SearchCorpora(st.ctx, embedding, []models.SearchParams{
		{SourceTypes: []models.SourceType{models.SourceKnowledgeEntry}, Limit: limit, MinSimilarity: s.cfg.MinSimilarity},
		{SourceTypes: []models.SourceType{models.SourceCorrespondence}, Limit: limit, MinSimilarity: s.cfg.MinSimilarity},
	})

	var candidates []models.ScoredDocument
	for _, docs := range found {
		candidates = append(candidates, docs...)
	}

	// merge corpora by similarity; stable so knowledge entries win ties
	slices.SortStableFunc(candidates, func(a, b models.ScoredDocument) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})

	st.rec.Count = len(candidates)
	st.rec.Scores = similarities(candidates)
	st.end(nil)

	if ctx.Err() != nil {
		return abort(models.AbortCancelled)
	}

	if len(candidates) == 0 {
		return abort(models.AbortNoCandidates)
	}

	st = rec.begin(ctx, models.StageRerank)
	reranked := s.reranker.Rerank(candidates, QuestionKeywords(question), s.cfg.TopK)
	result.Rerank = reranked.Diagnostics
	st.rec.Count = len(reranked.Ordered)
	st.end(nil)

	st = rec.begin(ctx, models.StagePrompt)
	system, prompt := BuildAnswerPrompt(question, reranked.Ordered)
	st.rec.Count = len(prompt)
	st.end(nil)

	st = rec.begin(ctx, models.StageComplete)
	raw, err := s.completer.Complete(st.ctx, completion.Request{System: system, Prompt: prompt})
	st.rec.Count = len(raw)
	st.end(err)

	if err != nil {
		if ctx.Err() != nil {
			return abort(models.AbortCancelled)
		}

		s.logger.Error("answer: completion failed", "run_id", rec.run.ID, "error", err, "prompt_chars", len(prompt))

		return abort(models.AbortCompletionFailed)
	}

	st = rec.begin(ctx, models.StageParse)

	var resp answerResponse

	err = llmjson.Parse(raw, &resp)
	if err == nil && strings.TrimSpace(resp.Answer) == "" {
		err = fmt.Errorf("%w: empty answer", llmjson.ErrUnparseable)
	}

	st.end(err)

	if err != nil {
		s.logger.Warn("answer: unparseable completion", "run_id", rec.run.ID, "error", err, "response_chars", len(raw))

		return abort(models.AbortUnparseable)
	}

	result.Answer = &models.Answer{
		Text:      strings.TrimSpace(resp.Answer),
		SourceIDs: citedSources(resp.SourceIDs, reranked.Ordered),
	}
	result.Run = rec.finish(ctx, "")

	return result, nil
}

// citedSources keeps the cited ids that were actually supplied, deduplicated, in citation order.
func citedSources(cited []string, supplied []models.ScoredDocument) []string {
	known := make(map[string]bool, len(supplied))
	for _, d := range supplied {
		known[d.ID] = true
	}

	out := []string{}

	for _, id := range cited {
		id = strings.TrimSpace(id)
		if known[id] && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	return out
}

var questionStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "can": true, "you": true, "what": true,
	"how": true, "when": true, "where": true, "which": true, "who": true, "why": true, "does": true,
	"with": true, "from": true, "this": true, "that": true, "have": true, "there": true, "any": true,
	"our": true, "your": true, "will": true, "would": true, "should": true, "about": true, "into": true,
}

// QuestionKeywords returns the distinct lowercased terms of a question, without stopwords and
// very short terms.
func QuestionKeywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var out []string

	for _, f := range fields {
		minRunes := 3
		if utf8.RuneCountInString(f) != len(f) {
			// two runes suffice for Hangul and other multi-byte scripts
			minRunes = 2
		}

		if utf8.RuneCountInString(f) < minRunes || questionStopwords[f] || slices.Contains(out, f) {
			continue
		}

		out = append(out, f)
	}

	return out
}
