// Package api assembles the HTTP routes of the Groundwork API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tripdesk/groundwork/internal/api/handlers"
	"github.com/tripdesk/groundwork/internal/api/middleware"
	"github.com/tripdesk/groundwork/internal/api/response"
	"github.com/tripdesk/groundwork/internal/observability"
)

// RouterParams holds the handlers and middleware settings of the router. MetricsHandler and
// APIMetrics may be nil; /metrics is only mounted when MetricsHandler is set.
type RouterParams struct {
	Health     *handlers.HealthHandler
	Drafts     *handlers.DraftsHandler
	Answers    *handlers.AnswersHandler
	Places     *handlers.PlacesHandler
	Analytics  *handlers.AnalyticsHandler
	Embeddings *handlers.EmbeddingsHandler

	MetricsHandler http.Handler
	APIMetrics     observability.APIMetrics
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// NewRouter builds the chi router. Request ids, tracing and access logs wrap the router from
// the outside so they also cover unmatched routes.
func NewRouter(p RouterParams) http.Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var bodyTooLarge middleware.RequestBodyTooLargeRecorder
	if p.APIMetrics != nil {
		bodyTooLarge = p.APIMetrics
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Metrics(p.APIMetrics))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.RespondNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "method not allowed")
	})

	r.Get("/health", p.Health.Check)

	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.MaxBody(p.MaxBodyBytes, bodyTooLarge))

		r.Post("/drafts", p.Drafts.Create)
		r.Post("/answers", p.Answers.Create)
		r.Post("/places/match", p.Places.Match)
		r.Get("/duplicates", p.Analytics.Duplicates)
		r.Post("/categories/classify", p.Analytics.Classify)
		r.Post("/embeddings/backfill", p.Embeddings.Backfill)
	})

	return r
}
