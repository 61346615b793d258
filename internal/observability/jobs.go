package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics records batch job results (backfill, duplicate detection, classification).
type JobMetrics interface {
	RecordBackfillDocuments(ctx context.Context, sourceType, status string, count int)
	RecordDuplicateGroups(ctx context.Context, sourceType string, groups int)
	RecordClassified(ctx context.Context, source string, count int)
}

type jobMetrics struct {
	backfill        metric.Int64Counter
	duplicateGroups metric.Int64Gauge
	classified      metric.Int64Counter
}

// NewJobMetrics creates JobMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewJobMetrics(meter metric.Meter) (JobMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	backfill, err := meter.Int64Counter(
		MetricNameBackfillDocuments,
		metric.WithDescription("Documents processed by embedding backfill, by status (embedded, failed, skipped)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create backfill counter: %w", err)
	}

	duplicateGroups, err := meter.Int64Gauge(
		MetricNameDuplicateGroups,
		metric.WithDescription("Duplicate groups found by the last detection run"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duplicate groups gauge: %w", err)
	}

	classified, err := meter.Int64Counter(
		MetricNameClassifiedDocuments,
		metric.WithDescription("Documents assigned a category, by source (centroid, llm)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classified counter: %w", err)
	}

	return &jobMetrics{backfill: backfill, duplicateGroups: duplicateGroups, classified: classified}, nil
}

func (j *jobMetrics) RecordBackfillDocuments(ctx context.Context, sourceType, status string, count int) {
	if count <= 0 {
		return
	}

	j.backfill.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(AttrSource, sourceType),
		attribute.String(AttrStatus, status),
	))
}

func (j *jobMetrics) RecordDuplicateGroups(ctx context.Context, sourceType string, groups int) {
	j.duplicateGroups.Record(ctx, int64(groups), metric.WithAttributes(attribute.String(AttrSource, sourceType)))
}

func (j *jobMetrics) RecordClassified(ctx context.Context, source string, count int) {
	if count <= 0 {
		return
	}

	j.classified.Add(ctx, int64(count), metric.WithAttributes(attribute.String(AttrSource, source)))
}
