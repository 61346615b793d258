package embeddings

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"

	vec "github.com/tripdesk/groundwork/pkg/embeddings"
)

// ErrEmptyText is returned by MockClient for blank input.
var ErrEmptyText = errors.New("embeddings: text cannot be empty")

// MockClient is a Provider that generates deterministic embeddings from the input text hash.
// It is used in tests and for local development without provider credentials.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock provider with 1536 dimensions (text-embedding-3-small).
func NewMockClient() *MockClient {
	return &MockClient{dimensions: 1536}
}

// NewMockClientWithDimensions creates a mock provider with custom dimensions.
func NewMockClientWithDimensions(dimensions int) *MockClient {
	return &MockClient{dimensions: dimensions}
}

// Name implements Provider.
func (c *MockClient) Name() string { return "mock" }

// Model implements Provider.
func (c *MockClient) Model() string { return "mock-sha256" }

// CreateEmbedding returns a unit vector derived from the SHA-256 of text.
// Identical text always yields the identical vector.
func (c *MockClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	hash := sha256.Sum256([]byte(text))
	embedding := make([]float32, c.dimensions)

	for i := range c.dimensions {
		// bytes are reused cyclically and mapped to [-1, 1]
		embedding[i] = (float32(hash[i%len(hash)]) / 127.5) - 1.0
	}

	vec.Normalize(embedding)

	return embedding, nil
}

var _ Provider = (*MockClient)(nil)
