package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/llmjson"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
	vec "github.com/tripdesk/groundwork/pkg/embeddings"
)

// Defaults for category classification.
const (
	DefaultLowConfidence  = 0.3
	DefaultColdStartChunk = 20
	minCentroidExamples   = 2
	classifyExcerptChars  = 400
)

// DefaultCategories is the cold-start whitelist when none is configured.
var DefaultCategories = []string{
	"visa", "payment", "booking_change", "cancellation", "transport", "accommodation",
	"itinerary", "food", "shopping", "activities", "complaint",
}

const classifySystemPrompt = `You classify travel agency documents into categories.
Use only the allowed categories. Respond with JSON only: [{"id":"...","category":"..."}], one entry per document.`

// CategoryStore reads embedded documents and stores category assignments.
type CategoryStore interface {
	ListEmbedded(ctx context.Context, sourceType models.SourceType) ([]models.LabeledEmbedding, error)
	SetCategory(ctx context.Context, id, category, source string) error
}

// CategoryService assigns categories to unlabeled documents using per-category centroids, or a
// completion-based classifier when no category has enough labeled examples.
type CategoryService struct {
	store         CategoryStore
	completer     Completer
	lowConfidence float64
	chunkSize     int
	whitelist     []string
	metrics       observability.JobMetrics
	logger        *slog.Logger
}

// CategoryServiceParams configures CategoryService. Completer may be nil, which disables the
// cold-start classifier. Metrics may be nil.
type CategoryServiceParams struct {
	Store         CategoryStore
	Completer     Completer
	LowConfidence float64
	ChunkSize     int
	Whitelist     []string
	Metrics       observability.JobMetrics
	Logger        *slog.Logger
}

// NewCategoryService creates a CategoryService.
func NewCategoryService(p CategoryServiceParams) *CategoryService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &CategoryService{
		store:         p.Store,
		completer:     p.Completer,
		lowConfidence: p.LowConfidence,
		chunkSize:     p.ChunkSize,
		whitelist:     p.Whitelist,
		metrics:       p.Metrics,
		logger:        logger,
	}

	if s.lowConfidence <= 0 {
		s.lowConfidence = DefaultLowConfidence
	}

	if s.chunkSize <= 0 {
		s.chunkSize = DefaultColdStartChunk
	}

	if len(s.whitelist) == 0 {
		s.whitelist = DefaultCategories
	}

	return s
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// Centroids returns the mean embedding of every category with at least two labeled examples.
func Centroids(docs []models.LabeledEmbedding) map[string][]float32 {
	byCategory := make(map[string][][]float32)

	for _, d := range docs {
		if d.Category == nil || len(d.Embedding) == 0 {
			continue
		}

		c := normalizeCategory(*d.Category)
		if c == "" {
			continue
		}

		byCategory[c] = append(byCategory[c], d.Embedding)
	}

	centroids := make(map[string][]float32)

	for c, vectors := range byCategory {
		if len(vectors) < minCentroidExamples {
			continue
		}

		if mean := vec.Mean(vectors); mean != nil {
			centroids[c] = mean
		}
	}

	return centroids
}

// nearestCentroid returns the most similar centroid; ties go to the alphabetically first name.
func nearestCentroid(embedding []float32, centroids map[string][]float32) (string, float64) {
	var (
		best    string
		bestSim = -2.0
	)

	for _, name := range slices.Sorted(maps.Keys(centroids)) {
		if sim := vec.CosineSimilarity(embedding, centroids[name]); sim > bestSim {
			best, bestSim = name, sim
		}
	}

	return best, bestSim
}

// Classify proposes a category for every unlabeled embedded document of sourceType. When apply
// is true, assignments are stored; storage failures are logged and do not fail the run.
func (s *CategoryService) Classify(
	ctx context.Context, sourceType models.SourceType, apply bool,
) (*models.ClassificationResult, error) {
	if !sourceType.IsValid() {
		return nil, apperrors.NewValidationError("source_type", "unknown source type")
	}

	docs, err := s.store.ListEmbedded(ctx, sourceType)
	if err != nil {
		return nil, fmt.Errorf("list embedded documents: %w", err)
	}

	var unlabeled []models.LabeledEmbedding

	for _, d := range docs {
		if d.Category == nil || normalizeCategory(*d.Category) == "" {
			unlabeled = append(unlabeled, d)
		}
	}

	centroids := Centroids(docs)
	result := &models.ClassificationResult{
		Centroids:   slices.Sorted(maps.Keys(centroids)),
		Assignments: []models.CategoryAssignment{},
	}

	if len(centroids) > 0 {
		for _, d := range unlabeled {
			name, sim := nearestCentroid(d.Embedding, centroids)
			if sim < s.lowConfidence {
				name = models.CategoryOther
			}

			sim = vec.Clamp01(sim)
			result.Assignments = append(result.Assignments, models.CategoryAssignment{
				DocumentID: d.ID,
				Category:   name,
				Similarity: &sim,
				Source:     models.CategorySourceCentroid,
			})
		}
	} else {
		result.ColdStart = true

		assignments, err := s.classifyColdStart(ctx, unlabeled, s.coldStartWhitelist(docs))
		if err != nil {
			return nil, err
		}

		result.Assignments = assignments
	}

	if apply {
		s.applyAssignments(ctx, result.Assignments)
	}

	if s.metrics != nil && len(result.Assignments) > 0 {
		source := models.CategorySourceCentroid
		if result.ColdStart {
			source = models.CategorySourceLLM
		}

		s.metrics.RecordClassified(ctx, source, len(result.Assignments))
	}

	s.logger.Info("categories: classification finished",
		"source_type", sourceType,
		"documents", len(docs),
		"unlabeled", len(unlabeled),
		"centroids", len(centroids),
		"assigned", len(result.Assignments),
		"cold_start", result.ColdStart,
	)

	return result, nil
}

func (s *CategoryService) applyAssignments(ctx context.Context, assignments []models.CategoryAssignment) {
	failed := 0

	for _, a := range assignments {
		if err := s.store.SetCategory(ctx, a.DocumentID, a.Category, a.Source); err != nil {
			failed++

			s.logger.Warn("categories: store assignment failed", "document_id", a.DocumentID, "error", err)
		}
	}

	if failed > 0 {
		s.logger.Error("categories: some assignments were not stored", "failed", failed, "total", len(assignments))
	}
}

// coldStartWhitelist is the configured whitelist plus any category already used by a label.
func (s *CategoryService) coldStartWhitelist(docs []models.LabeledEmbedding) []string {
	out := make([]string, 0, len(s.whitelist))

	add := func(c string) {
		c = normalizeCategory(c)
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}

	for _, c := range s.whitelist {
		add(c)
	}

	for _, d := range docs {
		if d.Category != nil {
			add(*d.Category)
		}
	}

	add(models.CategoryOther)

	return out
}

type classifiedItem struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// classifyColdStart asks the completion model to classify docs in chunks. A failed chunk is
// logged and skipped; categories outside the whitelist and ids outside the chunk are discarded.
func (s *CategoryService) classifyColdStart(
	ctx context.Context, docs []models.LabeledEmbedding, whitelist []string,
) ([]models.CategoryAssignment, error) {
	out := []models.CategoryAssignment{}

	if s.completer == nil || len(docs) == 0 {
		return out, nil
	}

	for chunk := range slices.Chunk(docs, s.chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("classification interrupted: %w", err)
		}

		raw, err := s.completer.Complete(ctx, completion.Request{
			System: classifySystemPrompt,
			Prompt: buildClassifyPrompt(chunk, whitelist),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("classification interrupted: %w", ctx.Err())
			}

			s.logger.Warn("categories: cold-start chunk failed", "error", err, "chunk_size", len(chunk))

			continue
		}

		var items []classifiedItem
		if err := llmjson.Parse(raw, &items); err != nil {
			s.logger.Warn("categories: unparseable cold-start response",
				"error", err,
				"chunk_size", len(chunk),
				"response_chars", len(raw),
			)

			continue
		}

		out = append(out, filterClassified(items, chunk, whitelist)...)
	}

	return out, nil
}

func buildClassifyPrompt(chunk []models.LabeledEmbedding, whitelist []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Allowed categories: %s\n\nDocuments:\n", strings.Join(whitelist, ", "))

	for _, d := range chunk {
		fmt.Fprintf(&b, "[%s] %s\n", d.ID, excerpt(d.Text, classifyExcerptChars))
	}

	return b.String()
}

func filterClassified(items []classifiedItem, chunk []models.LabeledEmbedding, whitelist []string) []models.CategoryAssignment {
	inChunk := make(map[string]bool, len(chunk))
	for _, d := range chunk {
		inChunk[d.ID] = true
	}

	var out []models.CategoryAssignment

	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		category := normalizeCategory(it.Category)

		if !inChunk[id] || !slices.Contains(whitelist, category) {
			continue
		}

		delete(inChunk, id)
		out = append(out, models.CategoryAssignment{
			DocumentID: id,
			Category:   category,
			Source:     models.CategorySourceLLM,
		})
	}

	return out
}
