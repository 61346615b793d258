package handlers

import (
	"context"
	"net/http"

	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/models"
)

// PlaceMatcher resolves place names against the catalog.
type PlaceMatcher interface {
	MatchPlaces(ctx context.Context, queries []models.PlaceQuery) []models.MatchResult
}

// PlacesHandler handles entity resolution requests.
type PlacesHandler struct {
	matcher PlaceMatcher
}

// NewPlacesHandler creates a places handler.
func NewPlacesHandler(matcher PlaceMatcher) *PlacesHandler {
	return &PlacesHandler{matcher: matcher}
}

// PlaceQueryRequest is one name to resolve.
type PlaceQueryRequest struct {
	Name       string `json:"name" validate:"required_without=LocalName,max=200,no_null_bytes"`
	LocalName  string `json:"local_name" validate:"max=200,no_null_bytes"`
	ProvidedID *int64 `json:"provided_id" validate:"omitempty,gt=0"`
}

// MatchPlacesRequest is the body of POST /v1/places/match.
type MatchPlacesRequest struct {
	Places []PlaceQueryRequest `json:"places" validate:"required,min=1,max=200,dive"`
}

// MatchPlacesResponse holds one result per requested place, in request order.
type MatchPlacesResponse struct {
	Results []models.MatchResult `json:"results"`
}

// Match handles POST /v1/places/match.
func (h *PlacesHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchPlacesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	queries := make([]models.PlaceQuery, len(req.Places))
	for i, p := range req.Places {
		queries[i] = models.PlaceQuery{Name: p.Name, LocalName: p.LocalName, ProvidedID: p.ProvidedID}
	}

	response.RespondJSON(w, http.StatusOK, MatchPlacesResponse{Results: h.matcher.MatchPlaces(r.Context(), queries)})
}
