package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics records draft and answer pipeline metrics.
type PipelineMetrics interface {
	RecordStage(ctx context.Context, pipeline, stage string, duration time.Duration)
	RecordRun(ctx context.Context, pipeline, abortReason string)
	RecordMatchTier(ctx context.Context, tier string, count int)
}

type pipelineMetrics struct {
	stageDuration metric.Float64Histogram
	runs          metric.Int64Counter
	matchTiers    metric.Int64Counter
}

// NewPipelineMetrics creates PipelineMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewPipelineMetrics(meter metric.Meter) (PipelineMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	stageDuration, err := meter.Float64Histogram(
		MetricNamePipelineStageDuration,
		metric.WithDescription("Duration of each pipeline stage (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline stage duration histogram: %w", err)
	}

	runs, err := meter.Int64Counter(
		MetricNamePipelineRuns,
		metric.WithDescription("Pipeline runs by abort reason (none = completed)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline runs counter: %w", err)
	}

	matchTiers, err := meter.Int64Counter(
		MetricNameMatchTiers,
		metric.WithDescription("Place names resolved per match tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("create match tiers counter: %w", err)
	}

	return &pipelineMetrics{stageDuration: stageDuration, runs: runs, matchTiers: matchTiers}, nil
}

func (p *pipelineMetrics) RecordStage(ctx context.Context, pipeline, stage string, duration time.Duration) {
	p.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrPipeline, NormalizeReason(pipeline, AllowedPipelines)),
		attribute.String(AttrStage, stage),
	))
}

func (p *pipelineMetrics) RecordRun(ctx context.Context, pipeline, abortReason string) {
	if abortReason == "" {
		abortReason = "none"
	}

	p.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipeline, NormalizeReason(pipeline, AllowedPipelines)),
		attribute.String(AttrReason, NormalizeReason(abortReason, AllowedAbortReasons)),
	))
}

func (p *pipelineMetrics) RecordMatchTier(ctx context.Context, tier string, count int) {
	if count <= 0 {
		return
	}

	p.matchTiers.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(AttrTier, NormalizeReason(tier, AllowedMatchTiers)),
	))
}
