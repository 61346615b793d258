package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EmbeddingMetrics records embedding gateway metrics.
// Methods accept ctx for future exemplar support.
type EmbeddingMetrics interface {
	RecordAttempt(ctx context.Context, provider, outcome string)
	RecordOutcome(ctx context.Context, provider, status string)
	RecordDuration(ctx context.Context, provider string, duration time.Duration, status string)
}

// embeddingMetrics implements EmbeddingMetrics.
type embeddingMetrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// NewEmbeddingMetrics creates EmbeddingMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewEmbeddingMetrics(meter metric.Meter) (EmbeddingMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	attempts, err := meter.Int64Counter(
		MetricNameEmbeddingAttempts,
		metric.WithDescription("Embedding provider calls by outcome (retries count as separate attempts)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding attempts counter: %w", err)
	}

	outcomes, err := meter.Int64Counter(
		MetricNameEmbeddingOutcomes,
		metric.WithDescription("Embedding gateway results by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding outcomes counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameEmbeddingDuration,
		metric.WithDescription("Embedding gateway call duration including retries (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding duration histogram: %w", err)
	}

	return &embeddingMetrics{attempts: attempts, outcomes: outcomes, duration: duration}, nil
}

func (e *embeddingMetrics) RecordAttempt(ctx context.Context, provider, outcome string) {
	e.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrOutcome, NormalizeReason(outcome, AllowedEmbeddingAttemptOutcomes)),
	))
}

func (e *embeddingMetrics) RecordOutcome(ctx context.Context, provider, status string) {
	e.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedEmbeddingStatuses)),
	))
}

func (e *embeddingMetrics) RecordDuration(ctx context.Context, provider string, duration time.Duration, status string) {
	e.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedEmbeddingStatuses)),
	))
}
