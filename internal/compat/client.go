// Package compat talks to OpenAI-compatible endpoints (self-hosted or third-party gateways)
// selected by base URL.
package compat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("compat: input text is empty")
	// ErrNoEmbeddingInResponse is returned when the response has no embedding data.
	ErrNoEmbeddingInResponse = errors.New("compat: no embedding in response")
	// ErrNoChoices is returned when a chat completion has no choices.
	ErrNoChoices = errors.New("compat: no choices in completion")
)

const providerName = "compatible"

// Config holds the endpoint settings.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Dimensions     int
}

// Client is an embedding and chat client for an OpenAI-compatible API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	chatModel  string
	dimensions int
}

// NewClient creates a client for the endpoint in cfg.
func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.EmbeddingModel),
		chatModel:  cfg.ChatModel,
		dimensions: cfg.Dimensions,
	}
}

// Name returns the provider name used in logs and metrics.
func (c *Client) Name() string { return providerName }

// Model returns the embedding model name.
func (c *Client) Model() string { return string(c.model) }

// CreateEmbedding returns the embedding for input. Dimension checks are left to the gateway.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	req := openai.EmbeddingRequest{
		Input:          []string{input},
		Model:          c.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError("compat embedding", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	return resp.Data[0].Embedding, nil
}

// Complete runs one chat completion and returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req completion.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}

	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == completion.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", parseAPIError("compat completion", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	return resp.Choices[0].Message.Content, nil
}

// parseAPIError keeps the HTTP status of request and API errors so the retry policy can classify them.
func parseAPIError(op string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s: %w", op, apperrors.NewProviderError(providerName, reqErr.HTTPStatusCode, err))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, apperrors.NewProviderError(providerName, apiErr.HTTPStatusCode, err))
	}

	return fmt.Errorf("%s: %w", op, err)
}
