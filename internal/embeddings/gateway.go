package embeddings

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/internal/retry"
)

const (
	defaultMaxInputChars = 8000
	defaultTimeout       = 15 * time.Second
	defaultMaxAttempts   = 4
)

var (
	errWrongDimension = errors.New("embedding has wrong dimension")
	errNonFinite      = errors.New("embedding contains NaN or Inf")
	errZeroVector     = errors.New("embedding is all zeros")
)

// Gateway generates embeddings and never returns an error: a nil vector means "no embedding",
// which callers treat as a normal branch.
type Gateway struct {
	provider      Provider
	dimensions    int
	maxInputChars int
	policy        retry.Policy
	metrics       observability.EmbeddingMetrics
	logger        *slog.Logger
}

// GatewayParams configures a Gateway. Zero values take the defaults
// (8000 chars, 15s per call, 4 attempts). Dimensions <= 0 disables the length check.
type GatewayParams struct {
	Provider       Provider
	Dimensions     int
	MaxInputChars  int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Metrics        observability.EmbeddingMetrics
	Logger         *slog.Logger
}

// NewGateway creates a Gateway over p.Provider.
func NewGateway(p GatewayParams) *Gateway {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if p.MaxInputChars <= 0 {
		p.MaxInputChars = defaultMaxInputChars
	}

	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}

	g := &Gateway{
		provider:      p.Provider,
		dimensions:    p.Dimensions,
		maxInputChars: p.MaxInputChars,
		metrics:       p.Metrics,
		logger:        logger,
	}

	g.policy = retry.Policy{
		MaxAttempts:    p.MaxAttempts,
		CallTimeout:    p.Timeout,
		InitialBackoff: p.InitialBackoff,
		MaxBackoff:     p.MaxBackoff,
		OnRetry: func(attempt int, class retry.Class, wait time.Duration, err error) {
			g.logger.Warn("embedding: retrying after backoff",
				"provider", g.provider.Name(),
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"class", class.String(),
				"backoff", wait,
				"error", err,
			)
		},
	}

	return g
}

// Model returns the provider's embedding model.
func (g *Gateway) Model() string {
	return g.provider.Model()
}

// Dimensions returns the expected vector length (0 when unchecked).
func (g *Gateway) Dimensions() int {
	return g.dimensions
}

// Generate returns the embedding of text, or nil when none could be produced: blank input,
// retries exhausted on 429/timeout, a second 5xx, any other provider error, a malformed
// response, or ctx cancellation.
func (g *Gateway) Generate(ctx context.Context, text string) []float32 {
	text = strings.TrimSpace(text)
	if text == "" {
		g.finish(ctx, time.Now(), "empty_input")

		return nil
	}

	start := time.Now()
	input := Truncate(text, g.maxInputChars)

	vector, err := retry.Do(ctx, g.policy, func(callCtx context.Context) ([]float32, error) {
		v, callErr := g.provider.CreateEmbedding(callCtx, input)
		g.recordAttempt(ctx, callCtx, callErr)

		return v, callErr
	})
	if err != nil {
		status := "failed"
		if c := retry.Classify(err); c != retry.Permanent {
			status = "exhausted"
		}

		g.logger.WarnContext(ctx, "embedding: no vector produced",
			"provider", g.provider.Name(),
			"status", status,
			"input_chars", utf8.RuneCountInString(input),
			"truncated", len(input) != len(text),
			"elapsed", time.Since(start),
			"error", err,
		)
		g.finish(ctx, start, status)

		return nil
	}

	if err := g.validate(vector); err != nil {
		g.logger.WarnContext(ctx, "embedding: discarding malformed response",
			"provider", g.provider.Name(),
			"got_dimensions", len(vector),
			"want_dimensions", g.dimensions,
			"error", err,
		)
		g.finish(ctx, start, "invalid_response")

		return nil
	}

	g.finish(ctx, start, "success")

	return vector
}

func (g *Gateway) validate(v []float32) error {
	if len(v) == 0 || (g.dimensions > 0 && len(v) != g.dimensions) {
		return errWrongDimension
	}

	nonZero := false

	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errNonFinite
		}

		if x != 0 {
			nonZero = true
		}
	}

	if !nonZero {
		return errZeroVector
	}

	return nil
}

func (g *Gateway) recordAttempt(ctx, callCtx context.Context, err error) {
	if g.metrics == nil {
		return
	}

	outcome := "success"

	if err != nil {
		outcome = "failed"

		if pe, ok := apperrors.AsProviderError(err); ok {
			switch {
			case pe.RateLimited():
				outcome = "rate_limited"
			case pe.ServerError():
				outcome = "server_error"
			}
		}

		if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() != nil && ctx.Err() == nil) {
			outcome = "timeout"
		}
	}

	g.metrics.RecordAttempt(ctx, g.provider.Name(), outcome)
}

func (g *Gateway) finish(ctx context.Context, start time.Time, status string) {
	if g.metrics == nil {
		return
	}

	g.metrics.RecordOutcome(ctx, g.provider.Name(), status)
	g.metrics.RecordDuration(ctx, g.provider.Name(), time.Since(start), status)
}

// Truncate cuts s to at most maxChars runes. It never splits a multi-byte character.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}

	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}

	return s
}
