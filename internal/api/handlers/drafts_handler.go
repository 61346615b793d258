package handlers

import (
	"context"
	"net/http"

	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/models"
)

// DraftGenerator runs the itinerary draft pipeline.
type DraftGenerator interface {
	GenerateDraft(ctx context.Context, req models.TripRequest) (*models.DraftResult, error)
}

// DraftsHandler handles itinerary draft requests.
type DraftsHandler struct {
	service DraftGenerator
}

// NewDraftsHandler creates a drafts handler.
func NewDraftsHandler(service DraftGenerator) *DraftsHandler {
	return &DraftsHandler{service: service}
}

// CreateDraftRequest is the body of POST /v1/drafts.
type CreateDraftRequest struct {
	Region       string   `json:"region" validate:"max=100,no_null_bytes"`
	SubTags      []string `json:"sub_tags" validate:"max=20,dive,required,max=50,no_null_bytes"`
	MainTags     []string `json:"main_tags" validate:"max=10,dive,required,max=50,no_null_bytes"`
	DurationDays int      `json:"duration_days" validate:"required,min=1,max=30"`
	Budget       string   `json:"budget" validate:"max=50,no_null_bytes"`
	Adults       int      `json:"adults" validate:"gte=0,lte=50"`
	Children     int      `json:"children" validate:"gte=0,lte=50"`
	Notes        string   `json:"notes" validate:"max=2000,no_null_bytes"`
}

func (r CreateDraftRequest) toTripRequest() models.TripRequest {
	return models.TripRequest{
		Region:       r.Region,
		SubTags:      r.SubTags,
		MainTags:     r.MainTags,
		DurationDays: r.DurationDays,
		Budget:       r.Budget,
		Adults:       r.Adults,
		Children:     r.Children,
		Notes:        r.Notes,
	}
}

// Create handles POST /v1/drafts. An aborted run is still a 200: the body carries the abort
// reason and the pipeline diagnostics with a null draft.
func (h *DraftsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDraftRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.GenerateDraft(r.Context(), req.toTripRequest())
	if err != nil {
		respondServiceError(w, r, "draft generation", err)

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}
