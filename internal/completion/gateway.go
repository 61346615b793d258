package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tripdesk/groundwork/internal/retry"
)

const (
	defaultTimeout     = 90 * time.Second
	defaultMaxAttempts = 3
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

var (
	// ErrNoCompletion is returned when the provider produced no usable text.
	ErrNoCompletion = errors.New("completion: no completion produced")
	// ErrNotConfigured is returned when no completion provider is configured.
	ErrNotConfigured = errors.New("completion: provider not configured")
)

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Gateway fills request defaults and applies the per-call timeout and retry policy.
type Gateway struct {
	provider    Provider
	model       string
	temperature float64
	maxTokens   int
	policy      retry.Policy
	logger      *slog.Logger
}

// GatewayParams configures a Gateway. Zero values take the defaults (90s per call, 3 attempts,
// 4096 tokens). Temperature takes 0.7 only when negative; zero is a valid temperature.
type GatewayParams struct {
	Provider    Provider
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

// NewGateway creates a Gateway. A nil Provider yields a gateway whose calls fail with ErrNotConfigured.
func NewGateway(p GatewayParams) *Gateway {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}

	if p.Temperature < 0 {
		p.Temperature = defaultTemperature
	}

	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}

	g := &Gateway{
		provider:    p.Provider,
		model:       p.Model,
		temperature: p.Temperature,
		maxTokens:   p.MaxTokens,
		logger:      logger,
	}

	g.policy = retry.Policy{
		MaxAttempts:    p.MaxAttempts,
		CallTimeout:    p.Timeout,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		OnRetry: func(attempt int, class retry.Class, wait time.Duration, err error) {
			g.logger.Warn("completion: retrying after backoff",
				"provider", g.provider.Name(),
				"attempt", attempt,
				"class", class.String(),
				"backoff", wait,
				"error", err,
			)
		},
	}

	return g
}

// WithRetryBackoff returns a copy of g with different backoff bounds. Used by tests and batch jobs.
func (g *Gateway) WithRetryBackoff(initial, maxBackoff time.Duration) *Gateway {
	c := *g
	c.policy.InitialBackoff = initial
	c.policy.MaxBackoff = maxBackoff

	return &c
}

// Complete runs req against the provider. Zero Temperature/MaxTokens/Model take the gateway
// defaults. Cancellation of ctx aborts the call and any pending retry.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	if g.provider == nil {
		return "", ErrNotConfigured
	}

	if req.Model == "" {
		req.Model = g.model
	}

	if req.Temperature == 0 {
		req.Temperature = g.temperature
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = g.maxTokens
	}

	start := time.Now()

	text, err := retry.Do(ctx, g.policy, func(callCtx context.Context) (string, error) {
		return g.provider.Complete(callCtx, req)
	})
	if err != nil {
		g.logger.WarnContext(ctx, "completion: failed",
			"provider", g.provider.Name(),
			"model", req.Model,
			"prompt_chars", len(req.Prompt),
			"elapsed", time.Since(start),
			"error", err,
		)

		return "", fmt.Errorf("%w: %w", ErrNoCompletion, err)
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrNoCompletion
	}

	g.logger.DebugContext(ctx, "completion: done",
		"provider", g.provider.Name(),
		"model", req.Model,
		"response_chars", len(text),
		"elapsed", time.Since(start),
	)

	return text, nil
}
