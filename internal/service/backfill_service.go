package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
)

// ErrBackfillRunning is returned when a backfill is started while another one is in progress.
var ErrBackfillRunning = errors.New("embedding backfill already running")

// Backfill outcome labels.
const (
	backfillEmbedded = "embedded"
	backfillFailed   = "failed"
	backfillSkipped  = "skipped"
)

// TextHash is the hex sha256 of text. It matches the hash computed in SQL by the corpus repository.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}

// EmbeddingTargetStore lists documents needing an embedding and stores new ones.
type EmbeddingTargetStore interface {
	ListEmbeddingTargets(ctx context.Context, sourceType models.SourceType, model string) ([]models.EmbeddingTarget, error)
	SetEmbedding(ctx context.Context, id string, embedding []float32, model, textHash string) error
}

// ProgressReporter receives per-document progress of an inline backfill. Increment may be
// called concurrently.
type ProgressReporter interface {
	Start(total int)
	Increment()
	Finish()
}

// BackfillService embeds every document whose embedding is missing or stale. Only one backfill
// runs at a time per service instance.
type BackfillService struct {
	store       EmbeddingTargetStore
	embedder    Embedder
	enqueuer    *EmbeddingEnqueuer
	limiter     *rate.Limiter
	concurrency int
	delay       time.Duration
	running     atomic.Bool
	progress    ProgressReporter
	metrics     observability.JobMetrics
	logger      *slog.Logger
}

// BackfillServiceParams configures BackfillService. RatePerSecond <= 0 disables rate limiting.
// Enqueuer is optional and only used by Enqueue. Progress and Metrics may be nil.
type BackfillServiceParams struct {
	Store         EmbeddingTargetStore
	Embedder      Embedder
	Enqueuer      *EmbeddingEnqueuer
	RatePerSecond float64
	Concurrency   int
	Delay         time.Duration
	Progress      ProgressReporter
	Metrics       observability.JobMetrics
	Logger        *slog.Logger
}

// NewBackfillService creates a BackfillService.
func NewBackfillService(p BackfillServiceParams) *BackfillService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &BackfillService{
		store:       p.Store,
		embedder:    p.Embedder,
		enqueuer:    p.Enqueuer,
		concurrency: p.Concurrency,
		delay:       p.Delay,
		progress:    p.Progress,
		metrics:     p.Metrics,
		logger:      logger,
	}

	if s.concurrency <= 0 {
		s.concurrency = DefaultBatchConcurrency
	}

	if p.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), max(1, s.concurrency))
	}

	return s
}

// Running reports whether a backfill is in progress.
func (s *BackfillService) Running() bool {
	return s.running.Load()
}

// Run embeds the missing or stale documents of sourceType inline. It returns ErrBackfillRunning
// when another run is in progress. Per-document failures are counted, not returned.
func (s *BackfillService) Run(ctx context.Context, sourceType models.SourceType) (*models.BackfillStats, error) {
	if !sourceType.IsValid() {
		return nil, apperrors.NewValidationError("source_type", "unknown source type")
	}

	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBackfillRunning
	}
	defer s.running.Store(false)

	start := time.Now()
	model := s.embedder.Model()

	targets, err := s.store.ListEmbeddingTargets(ctx, sourceType, model)
	if err != nil {
		return nil, fmt.Errorf("list embedding targets: %w", err)
	}

	if s.progress != nil {
		s.progress.Start(len(targets))
		defer s.progress.Finish()
	}

	var embedded, failed, skipped atomic.Int64

	err = runWindowed(ctx, len(targets), s.concurrency, s.delay, func(ctx context.Context, i int) {
		t := targets[i]

		if s.progress != nil {
			defer s.progress.Increment()
		}

		if strings.TrimSpace(t.Text) == "" {
			skipped.Add(1)

			return
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				failed.Add(1)

				return
			}
		}

		embedding := s.embedder.Generate(ctx, t.Text)
		if embedding == nil {
			failed.Add(1)

			s.logger.Warn("backfill: no embedding", "document_id", t.ID, "text_chars", len(t.Text))

			return
		}

		if err := s.store.SetEmbedding(ctx, t.ID, embedding, model, TextHash(t.Text)); err != nil {
			failed.Add(1)

			s.logger.Warn("backfill: store embedding failed", "document_id", t.ID, "error", err)

			return
		}

		embedded.Add(1)
	})

	stats := &models.BackfillStats{
		SourceType: sourceType,
		Candidates: len(targets),
		Embedded:   int(embedded.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
		Elapsed:    time.Since(start),
	}

	if s.metrics != nil {
		s.metrics.RecordBackfillDocuments(ctx, string(sourceType), backfillEmbedded, stats.Embedded)
		s.metrics.RecordBackfillDocuments(ctx, string(sourceType), backfillFailed, stats.Failed)
		s.metrics.RecordBackfillDocuments(ctx, string(sourceType), backfillSkipped, stats.Skipped)
	}

	s.logger.Info("backfill: finished",
		"source_type", sourceType,
		"model", model,
		"candidates", stats.Candidates,
		"embedded", stats.Embedded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"elapsed", stats.Elapsed,
	)

	return stats, err
}

// Enqueue inserts one River job per missing or stale document of sourceType instead of embedding
// inline. Returns the number of jobs inserted.
func (s *BackfillService) Enqueue(ctx context.Context, sourceType models.SourceType) (int, error) {
	if !sourceType.IsValid() {
		return 0, apperrors.NewValidationError("source_type", "unknown source type")
	}

	if s.enqueuer == nil {
		return 0, errors.New("backfill: no job enqueuer configured")
	}

	targets, err := s.store.ListEmbeddingTargets(ctx, sourceType, s.embedder.Model())
	if err != nil {
		return 0, fmt.Errorf("list embedding targets: %w", err)
	}

	enqueued := 0

	for _, t := range targets {
		inserted, err := s.enqueuer.Enqueue(ctx, t.ID)
		if err != nil {
			if ctx.Err() != nil {
				return enqueued, fmt.Errorf("enqueue interrupted: %w", ctx.Err())
			}

			s.logger.Error("backfill: enqueue failed", "document_id", t.ID, "error", err)

			continue
		}

		if inserted {
			enqueued++
		}
	}

	s.logger.Info("backfill: enqueued embedding jobs", "source_type", sourceType, "candidates", len(targets), "enqueued", enqueued)

	return enqueued, nil
}
