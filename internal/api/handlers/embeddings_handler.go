package handlers

import (
	"context"
	"net/http"

	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/models"
)

// Backfill modes.
const (
	backfillModeEnqueue = "enqueue"
	backfillModeInline  = "inline"
)

// EmbeddingBackfiller embeds documents with missing or stale embeddings.
type EmbeddingBackfiller interface {
	Run(ctx context.Context, sourceType models.SourceType) (*models.BackfillStats, error)
	Enqueue(ctx context.Context, sourceType models.SourceType) (int, error)
}

// EmbeddingsHandler triggers embedding backfills.
type EmbeddingsHandler struct {
	backfill EmbeddingBackfiller
}

// NewEmbeddingsHandler creates an embeddings handler.
func NewEmbeddingsHandler(backfill EmbeddingBackfiller) *EmbeddingsHandler {
	return &EmbeddingsHandler{backfill: backfill}
}

// BackfillQuery holds the query parameters of POST /v1/embeddings/backfill.
type BackfillQuery struct {
	SourceType string `form:"source_type" validate:"required,source_type"`
	Mode       string `form:"mode" validate:"omitempty,oneof=enqueue inline"`
}

// EnqueueResponse reports how many embedding jobs were inserted.
type EnqueueResponse struct {
	SourceType models.SourceType `json:"source_type"`
	Enqueued   int               `json:"enqueued"`
}

// Backfill handles POST /v1/embeddings/backfill. The default mode enqueues one job per document
// and returns 202; mode=inline embeds within the request and returns the run stats, or 409 when
// a backfill is already running.
func (h *EmbeddingsHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	var q BackfillQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	st := models.SourceType(q.SourceType)

	if q.Mode == backfillModeInline {
		stats, err := h.backfill.Run(r.Context(), st)
		if err != nil {
			respondServiceError(w, r, "embedding backfill", err)

			return
		}

		response.RespondJSON(w, http.StatusOK, stats)

		return
	}

	n, err := h.backfill.Enqueue(r.Context(), st)
	if err != nil {
		respondServiceError(w, r, "embedding enqueue", err)

		return
	}

	response.RespondJSON(w, http.StatusAccepted, EnqueueResponse{SourceType: st, Enqueued: n})
}
