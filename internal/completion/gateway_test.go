package completion

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
)

type mockProvider struct {
	completeFunc func(ctx context.Context, req Request) (string, error)
	calls        int
	last         Request
}

func (m *mockProvider) Name() string { return "test" }

func (m *mockProvider) Complete(ctx context.Context, req Request) (string, error) {
	m.calls++
	m.last = req

	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}

	return `{"ok":true}`, nil
}

func newTestGateway(p Provider) *Gateway {
	return NewGateway(GatewayParams{
		Provider:    p,
		Model:       "default-model",
		Temperature: 0.4,
		MaxTokens:   512,
		Timeout:     50 * time.Millisecond,
		MaxAttempts: 3,
	}).WithRetryBackoff(time.Millisecond, 2*time.Millisecond)
}

func TestNewGateway_temperature(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero is kept", 0, 0},
		{"negative takes default", -1, defaultTemperature},
		{"positive is kept", 0.2, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(GatewayParams{Provider: &mockProvider{}, Temperature: tt.in})
			assert.InDelta(t, tt.want, g.temperature, 1e-9)
		})
	}
}

func TestGateway_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("fills defaults", func(t *testing.T) {
		p := &mockProvider{}

		text, err := newTestGateway(p).Complete(ctx, Request{Prompt: "hi"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, text)
		assert.Equal(t, "default-model", p.last.Model)
		assert.InDelta(t, 0.4, p.last.Temperature, 1e-9)
		assert.Equal(t, 512, p.last.MaxTokens)
	})

	t.Run("explicit values win", func(t *testing.T) {
		p := &mockProvider{}

		_, err := newTestGateway(p).Complete(ctx, Request{Prompt: "hi", Model: "other", Temperature: 0.1, MaxTokens: 9})
		require.NoError(t, err)
		assert.Equal(t, "other", p.last.Model)
		assert.Equal(t, 9, p.last.MaxTokens)
	})

	t.Run("429 retried then fails with ErrNoCompletion", func(t *testing.T) {
		p := &mockProvider{completeFunc: func(context.Context, Request) (string, error) {
			return "", apperrors.NewProviderError("test", http.StatusTooManyRequests, errors.New("slow down"))
		}}

		_, err := newTestGateway(p).Complete(ctx, Request{Prompt: "hi"})
		require.ErrorIs(t, err, ErrNoCompletion)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("blank text is no completion", func(t *testing.T) {
		p := &mockProvider{completeFunc: func(context.Context, Request) (string, error) { return "  ", nil }}

		_, err := newTestGateway(p).Complete(ctx, Request{Prompt: "hi"})
		require.ErrorIs(t, err, ErrNoCompletion)
	})

	t.Run("cancellation reaches the provider", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		p := &mockProvider{completeFunc: func(callCtx context.Context, _ Request) (string, error) {
			cancel()
			<-callCtx.Done()

			return "", callCtx.Err()
		}}

		_, err := newTestGateway(p).Complete(cctx, Request{Prompt: "hi"})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, p.calls)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewGateway(GatewayParams{}).Complete(ctx, Request{Prompt: "hi"})
		require.ErrorIs(t, err, ErrNotConfigured)
	})
}
