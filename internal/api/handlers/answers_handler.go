package handlers

import (
	"context"
	"net/http"

	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/models"
)

// Answerer runs the FAQ answer pipeline.
type Answerer interface {
	Answer(ctx context.Context, question string) (*models.AnswerResult, error)
}

// AnswersHandler handles FAQ answer requests.
type AnswersHandler struct {
	service Answerer
}

// NewAnswersHandler creates an answers handler.
func NewAnswersHandler(service Answerer) *AnswersHandler {
	return &AnswersHandler{service: service}
}

// CreateAnswerRequest is the body of POST /v1/answers.
type CreateAnswerRequest struct {
	Question string `json:"question" validate:"required,max=2000,no_null_bytes"`
}

// Create handles POST /v1/answers.
func (h *AnswersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Answer(r.Context(), req.Question)
	if err != nil {
		respondServiceError(w, r, "answer generation", err)

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}
