// Package worker provides background workers for the Groundwork API.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tripdesk/groundwork/internal/models"
)

// DuplicateFinder finds clusters of near-identical documents.
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, sourceType models.SourceType) ([]models.DuplicateGroup, error)
}

// Classifier assigns categories to unlabeled documents.
type Classifier interface {
	Classify(ctx context.Context, sourceType models.SourceType, apply bool) (*models.ClassificationResult, error)
}

// AnalyticsScheduler periodically recomputes duplicate groups and stores category assignments
// for the configured corpora.
type AnalyticsScheduler struct {
	duplicates  DuplicateFinder
	classifier  Classifier
	sourceTypes []models.SourceType
	interval    time.Duration
	logger      *slog.Logger
}

// NewAnalyticsScheduler creates a scheduler. Empty sourceTypes means every corpus.
func NewAnalyticsScheduler(
	duplicates DuplicateFinder, classifier Classifier, sourceTypes []models.SourceType, interval time.Duration, logger *slog.Logger,
) *AnalyticsScheduler {
	if interval <= 0 {
		interval = time.Hour
	}

	if len(sourceTypes) == 0 {
		sourceTypes = models.AllSourceTypes()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &AnalyticsScheduler{
		duplicates:  duplicates,
		classifier:  classifier,
		sourceTypes: sourceTypes,
		interval:    interval,
		logger:      logger,
	}
}

// Start runs one pass immediately and then one per interval until ctx is cancelled.
func (s *AnalyticsScheduler) Start(ctx context.Context) {
	s.logger.Info("analytics scheduler started", "interval", s.interval, "source_types", s.sourceTypes)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("analytics scheduler stopped")

			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single pass over every corpus. Failures are logged per corpus.
func (s *AnalyticsScheduler) RunOnce(ctx context.Context) {
	for _, st := range s.sourceTypes {
		if ctx.Err() != nil {
			return
		}

		if s.duplicates != nil {
			groups, err := s.duplicates.FindDuplicates(ctx, st)
			if err != nil {
				s.logger.Error("analytics: duplicate detection failed", "source_type", st, "error", err)
			} else {
				s.logger.Info("analytics: duplicate detection completed", "source_type", st, "groups", len(groups))
			}
		}

		if s.classifier != nil {
			res, err := s.classifier.Classify(ctx, st, true)
			if err != nil {
				s.logger.Error("analytics: classification failed", "source_type", st, "error", err)

				continue
			}

			if len(res.Assignments) > 0 {
				s.logger.Info("analytics: classification completed",
					"source_type", st,
					"assigned", len(res.Assignments),
					"cold_start", res.ColdStart,
				)
			} else {
				s.logger.Debug("analytics: classification completed, nothing to classify", "source_type", st)
			}
		}
	}
}
