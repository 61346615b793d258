// Package handlers implements the HTTP handlers of the Groundwork API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/api/validation"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/service"
)

// statusClientClosedRequest is logged when the client went away; nothing is written.
const statusClientClosedRequest = 499

// respondServiceError maps a service error to a problem response. Unexpected errors are logged
// with op and reported as 500 without internal detail.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		response.RespondBadRequest(w, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		response.RespondNotFound(w, err.Error())
	case errors.Is(err, service.ErrBackfillRunning):
		response.RespondConflict(w, err.Error())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		slog.InfoContext(r.Context(), op+": client closed request", "status", statusClientClosedRequest)
	default:
		slog.ErrorContext(r.Context(), op+" failed", "error", err)
		response.RespondInternalServerError(w, op+" failed")
	}
}

// decodeBody decodes and validates a JSON body, writing the 400 response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validation.DecodeJSON(r, dst); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return false
	}

	if err := validation.ValidateStruct(dst); err != nil {
		validation.RespondValidationError(w, err)

		return false
	}

	return true
}

// decodeQuery decodes and validates query parameters, writing the 400 response itself on failure.
func decodeQuery(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validation.ValidateAndDecodeQueryParams(r, dst); err != nil {
		validation.RespondValidationError(w, err)

		return false
	}

	return true
}
