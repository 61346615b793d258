package handlers

import (
	"context"
	"net/http"

	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/models"
)

// DuplicateFinder groups near-identical documents of a corpus.
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, sourceType models.SourceType) ([]models.DuplicateGroup, error)
}

// CategoryClassifier proposes categories for unlabeled documents of a corpus.
type CategoryClassifier interface {
	Classify(ctx context.Context, sourceType models.SourceType, apply bool) (*models.ClassificationResult, error)
}

// AnalyticsHandler serves duplicate detection and category classification.
type AnalyticsHandler struct {
	duplicates DuplicateFinder
	categories CategoryClassifier
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(duplicates DuplicateFinder, categories CategoryClassifier) *AnalyticsHandler {
	return &AnalyticsHandler{duplicates: duplicates, categories: categories}
}

// SourceTypeQuery selects a corpus.
type SourceTypeQuery struct {
	SourceType string `form:"source_type" validate:"required,source_type"`
}

// ClassifyQuery holds the query parameters of POST /v1/categories/classify.
type ClassifyQuery struct {
	SourceType string `form:"source_type" validate:"required,source_type"`
	Apply      bool   `form:"apply"`
}

// DuplicatesResponse is the response of GET /v1/duplicates.
type DuplicatesResponse struct {
	SourceType models.SourceType       `json:"source_type"`
	Groups     []models.DuplicateGroup `json:"groups"`
}

// Duplicates handles GET /v1/duplicates?source_type=...
func (h *AnalyticsHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	var q SourceTypeQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	st := models.SourceType(q.SourceType)

	groups, err := h.duplicates.FindDuplicates(r.Context(), st)
	if err != nil {
		respondServiceError(w, r, "duplicate detection", err)

		return
	}

	if groups == nil {
		groups = []models.DuplicateGroup{}
	}

	response.RespondJSON(w, http.StatusOK, DuplicatesResponse{SourceType: st, Groups: groups})
}

// Classify handles POST /v1/categories/classify?source_type=...&apply=true. Without apply the
// assignments are only proposed.
func (h *AnalyticsHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var q ClassifyQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	result, err := h.categories.Classify(r.Context(), models.SourceType(q.SourceType), q.Apply)
	if err != nil {
		respondServiceError(w, r, "classification", err)

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}
