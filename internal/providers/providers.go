// Package providers builds the embedding and completion backends selected by configuration.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tripdesk/groundwork/internal/compat"
	"github.com/tripdesk/groundwork/internal/completion"
	"github.com/tripdesk/groundwork/internal/config"
	"github.com/tripdesk/groundwork/internal/embeddings"
	"github.com/tripdesk/groundwork/internal/googleai"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/internal/openai"
)

// Provider names accepted in EMBEDDING_PROVIDER and COMPLETION_PROVIDER.
const (
	OpenAI     = "openai"
	Google     = "google"
	Compatible = "compatible"
	Mock       = "mock"
)

var (
	// ErrUnsupportedProvider is returned for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrMissingBaseURL is returned when the compatible provider has no base URL.
	ErrMissingBaseURL = errors.New("compatible provider requires a base URL")
)

// Embedding returns the embedding provider named by cfg.EmbeddingProvider. An empty name selects
// the deterministic mock so the service runs without credentials.
func Embedding(ctx context.Context, cfg *config.Config) (embeddings.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "", Mock:
		slog.Warn("embeddings use the deterministic mock provider (EMBEDDING_PROVIDER unset or mock)")

		return embeddings.NewMockClientWithDimensions(cfg.EmbeddingDimensions), nil
	case OpenAI:
		return openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
			openai.WithBaseURL(cfg.EmbeddingBaseURL),
		), nil
	case Google:
		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	case Compatible:
		if cfg.EmbeddingBaseURL == "" {
			return nil, fmt.Errorf("embedding: %w", ErrMissingBaseURL)
		}

		return compat.NewClient(compat.Config{
			APIKey:         cfg.EmbeddingProviderAPIKey,
			BaseURL:        cfg.EmbeddingBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
		}), nil
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", ErrUnsupportedProvider, cfg.EmbeddingProvider)
	}
}

// Completion returns the completion provider named by cfg.CompletionProvider, or nil when none
// is configured. A nil provider makes every completion fail with completion.ErrNotConfigured.
func Completion(ctx context.Context, cfg *config.Config) (completion.Provider, error) {
	switch cfg.CompletionProvider {
	case "":
		slog.Warn("completions disabled (COMPLETION_PROVIDER unset); drafts, answers and cold-start classification will abort")

		return nil, nil
	case OpenAI:
		return openai.NewClient(cfg.CompletionAPIKey,
			openai.WithChatModel(cfg.CompletionModel),
			openai.WithBaseURL(cfg.CompletionBaseURL),
		), nil
	case Google:
		client, err := googleai.NewClient(ctx, cfg.CompletionAPIKey, googleai.WithChatModel(cfg.CompletionModel))
		if err != nil {
			return nil, fmt.Errorf("create google completion client: %w", err)
		}

		return client, nil
	case Compatible:
		if cfg.CompletionBaseURL == "" {
			return nil, fmt.Errorf("completion: %w", ErrMissingBaseURL)
		}

		return compat.NewClient(compat.Config{
			APIKey:    cfg.CompletionAPIKey,
			BaseURL:   cfg.CompletionBaseURL,
			ChatModel: cfg.CompletionModel,
		}), nil
	default:
		return nil, fmt.Errorf("%w: completion provider %q", ErrUnsupportedProvider, cfg.CompletionProvider)
	}
}

// EmbeddingGateway wraps the configured embedding provider in a gateway.
func EmbeddingGateway(
	ctx context.Context, cfg *config.Config, metrics observability.EmbeddingMetrics, logger *slog.Logger,
) (*embeddings.Gateway, error) {
	provider, err := Embedding(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return embeddings.NewGateway(embeddings.GatewayParams{
		Provider:      provider,
		Dimensions:    cfg.EmbeddingDimensions,
		MaxInputChars: cfg.EmbeddingMaxInputChars,
		Timeout:       cfg.EmbeddingTimeout,
		MaxAttempts:   cfg.EmbeddingMaxAttempts,
		Metrics:       metrics,
		Logger:        logger,
	}), nil
}

// CompletionGateway wraps the configured completion provider in a gateway.
func CompletionGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*completion.Gateway, error) {
	provider, err := Completion(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return completion.NewGateway(completion.GatewayParams{
		Provider:    provider,
		Model:       cfg.CompletionModel,
		Temperature: cfg.CompletionTemperature,
		MaxTokens:   cfg.CompletionMaxTokens,
		Timeout:     cfg.CompletionTimeout,
		Logger:      logger,
	}), nil
}
