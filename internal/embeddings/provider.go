// Package embeddings turns text into fixed-length vectors through a configured provider,
// with truncation, per-call timeouts and retry.
package embeddings

import "context"

// Provider is a single embedding backend (OpenAI, Gemini, an OpenAI-compatible endpoint, or the mock).
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Model is the embedding model; stored next to vectors so a model change marks them stale.
	Model() string
	// CreateEmbedding makes one provider call. It must honor ctx cancellation.
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}
