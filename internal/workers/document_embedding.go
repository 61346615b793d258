// Package workers provides River job workers.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/riverqueue/river"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/internal/service"
)

var errNoEmbedding = errors.New("embedding gateway returned no vector")

// documentStore is the minimal interface needed by the worker.
type documentStore interface {
	Get(ctx context.Context, id string) (*models.CorpusDocument, error)
	SetEmbedding(ctx context.Context, id string, embedding []float32, model, textHash string) error
}

// DocumentEmbeddingWorker recomputes the embedding of one corpus document. It is idempotent: a
// document whose stored hash and model match its current text is left alone.
type DocumentEmbeddingWorker struct {
	river.WorkerDefaults[service.DocumentEmbeddingArgs]

	store    documentStore
	embedder service.Embedder
	logger   *slog.Logger
}

// NewDocumentEmbeddingWorker creates the worker. logger may be nil.
func NewDocumentEmbeddingWorker(store documentStore, embedder service.Embedder, logger *slog.Logger) *DocumentEmbeddingWorker {
	if logger == nil {
		logger = slog.Default()
	}

	return &DocumentEmbeddingWorker{store: store, embedder: embedder, logger: logger}
}

const documentEmbeddingTimeout = 2 * time.Minute

// Timeout limits how long a single embedding job can run, retries inside the gateway included.
func (w *DocumentEmbeddingWorker) Timeout(*river.Job[service.DocumentEmbeddingArgs]) time.Duration {
	return documentEmbeddingTimeout
}

// Work loads the document, skips it when the stored embedding is current, and otherwise embeds
// and stores it.
func (w *DocumentEmbeddingWorker) Work(ctx context.Context, job *river.Job[service.DocumentEmbeddingArgs]) error {
	id := job.Args.DocumentID
	ctx = observability.WithLogAttrs(ctx, slog.String("document_id", id), slog.Int("attempt", job.Attempt))

	doc, err := w.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.Info("embedding job: document gone, nothing to do", "document_id", id)

			return nil
		}

		return fmt.Errorf("get document: %w", err)
	}

	text := strings.TrimSpace(doc.Text)
	if text == "" {
		w.logger.Info("embedding job: skipped (empty text)", "document_id", id)

		return nil
	}

	model := w.embedder.Model()
	hash := service.TextHash(doc.Text)

	if doc.Embedding != nil && doc.TextHash != nil && *doc.TextHash == hash &&
		doc.EmbeddingModel != nil && *doc.EmbeddingModel == model {
		w.logger.Debug("embedding job: skipped (up to date)", "document_id", id)

		return nil
	}

	embedding := w.embedder.Generate(ctx, doc.Text)
	if embedding == nil {
		if job.Attempt >= job.MaxAttempts {
			w.logger.Error("embedding job: no embedding (final attempt)", "document_id", id, "attempt", job.Attempt)

			return nil
		}

		return fmt.Errorf("document %s: %w", id, errNoEmbedding)
	}

	if err := w.store.SetEmbedding(ctx, id, embedding, model, hash); err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}

	w.logger.Info("embedding job: stored", "document_id", id, "model", model)

	return nil
}
