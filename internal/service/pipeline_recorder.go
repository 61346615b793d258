package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
)

const (
	pipelineDraft  = "draft"
	pipelineAnswer = "answer"
)

// runRecorder fills a PipelineRun. Stages may be recorded from several goroutines.
type runRecorder struct {
	mu       sync.Mutex
	run      models.PipelineRun
	pipeline string
	start    time.Time
	metrics  observability.PipelineMetrics
}

func newRunRecorder(pipeline string, metrics observability.PipelineMetrics) *runRecorder {
	return &runRecorder{
		run:      models.NewPipelineRun(),
		pipeline: pipeline,
		start:    time.Now(),
		metrics:  metrics,
	}
}

// stage is one in-flight stage. Callers set rec fields before calling end.
type stage struct {
	r     *runRecorder
	ctx   context.Context
	span  trace.Span
	start time.Time
	rec   models.StageRecord
}

func (r *runRecorder) begin(ctx context.Context, name string) *stage {
	ctx, span := observability.StartSpan(ctx, r.pipeline+"."+name,
		attribute.String("pipeline.run_id", r.run.ID.String()),
	)

	now := time.Now()

	return &stage{
		r:     r,
		ctx:   ctx,
		span:  span,
		start: now,
		rec:   models.StageRecord{Name: name, StartedAt: now},
	}
}

func (s *stage) end(err error) {
	s.rec.Elapsed = time.Since(s.start)
	if err != nil {
		s.rec.Error = err.Error()
	}

	s.span.SetAttributes(attribute.Int("pipeline.stage.count", s.rec.Count))
	observability.EndSpan(s.span, err)

	if s.r.metrics != nil {
		s.r.metrics.RecordStage(s.ctx, s.r.pipeline, s.rec.Name, s.rec.Elapsed)
	}

	s.r.mu.Lock()
	s.r.run.Stages = append(s.r.run.Stages, s.rec)
	s.r.mu.Unlock()
}

func (s *stage) extra(key string, v float64) {
	if s.rec.Extra == nil {
		s.rec.Extra = make(map[string]float64)
	}

	s.rec.Extra[key] = v
}

// finish stamps the total elapsed time and abort reason and returns the run.
func (r *runRecorder) finish(ctx context.Context, abortReason string) models.PipelineRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.run.AbortReason = abortReason
	r.run.Elapsed = time.Since(r.start)

	if r.metrics != nil {
		r.metrics.RecordRun(ctx, r.pipeline, abortReason)
	}

	run := r.run
	run.Stages = append([]models.StageRecord(nil), r.run.Stages...)

	return run
}

func similarities(docs []models.ScoredDocument) []float64 {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = d.Similarity
	}

	return out
}

func documentIDs(docs []models.ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}

	return out
}
