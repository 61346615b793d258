package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
)

func TestAnswerService_Answer(t *testing.T) {
	ctx := context.Background()

	search := &mockQuerySearcher{searchFunc: func(_ context.Context, p models.SearchParams) []models.ScoredDocument {
		if p.SourceTypes[0] == models.SourceKnowledgeEntry {
			return []models.ScoredDocument{doc("k1", 0.8, "Refunds are issued within 14 days of cancellation.")}
		}

		return []models.ScoredDocument{doc("m1", 0.8, "We refunded the deposit last spring.")}
	}}

	t.Run("success filters uncited sources", func(t *testing.T) {
		completer := &mockCompleter{completeFunc: func(_ context.Context, req completion.Request) (string, error) {
			assert.Contains(t, req.Prompt, "k1")
			assert.Contains(t, req.Prompt, "m1")

			return `{"answer":" Refunds take up to 14 days. ","source_ids":["k1","zz","k1"]}`, nil
		}}
		svc := NewAnswerService(AnswerServiceParams{Search: search, Completer: completer})

		res, err := svc.Answer(ctx, "How long do refunds take?")
		require.NoError(t, err)
		require.NotNil(t, res.Answer)
		assert.Equal(t, "Refunds take up to 14 days.", res.Answer.Text)
		assert.Equal(t, []string{"k1"}, res.Answer.SourceIDs)
		require.Len(t, res.Rerank, 2)
		assert.Equal(t, "k1", res.Rerank[0].DocumentID)
	})

	t.Run("validation", func(t *testing.T) {
		svc := NewAnswerService(AnswerServiceParams{Search: search, Completer: &mockCompleter{}})

		_, err := svc.Answer(ctx, "   ")
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		long := make([]rune, 2001)
		for i := range long {
			long[i] = '가'
		}

		_, err = svc.Answer(ctx, string(long))
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("empty answer is unparseable", func(t *testing.T) {
		completer := &mockCompleter{completeFunc: func(context.Context, completion.Request) (string, error) {
			return `{"answer":"","source_ids":[]}`, nil
		}}
		svc := NewAnswerService(AnswerServiceParams{Search: search, Completer: completer})

		res, err := svc.Answer(ctx, "refunds?")
		require.NoError(t, err)
		assert.Nil(t, res.Answer)
		assert.Equal(t, models.AbortUnparseable, res.AbortReason)
	})

	t.Run("no candidates", func(t *testing.T) {
		empty := &mockQuerySearcher{}
		completer := &mockCompleter{}
		svc := NewAnswerService(AnswerServiceParams{Search: empty, Completer: completer})

		res, err := svc.Answer(ctx, "visa rules?")
		require.NoError(t, err)
		assert.Equal(t, models.AbortNoCandidates, res.AbortReason)
		assert.Empty(t, completer.requests)
	})

	t.Run("no embedding", func(t *testing.T) {
		svc := NewAnswerService(AnswerServiceParams{
			Search:    &mockQuerySearcher{embedFunc: func(context.Context, string) []float32 { return nil }},
			Completer: &mockCompleter{},
		})

		res, err := svc.Answer(ctx, "visa rules?")
		require.NoError(t, err)
		assert.Equal(t, models.AbortNoEmbedding, res.AbortReason)
	})
}

func TestQuestionKeywords(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     []string
	}{
		{name: "drops stopwords and short terms", question: "What is the refund policy for a tour?", want: []string{"refund", "policy", "tour"}},
		{name: "dedupes", question: "Visa visa VISA", want: []string{"visa"}},
		{name: "keeps two rune hangul", question: "환불 규정", want: []string{"환불", "규정"}},
		{name: "empty", question: "?!", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuestionKeywords(tt.question))
		})
	}
}

func TestCitedSources(t *testing.T) {
	supplied := []models.ScoredDocument{doc("a", 0.9, ""), doc("b", 0.8, "")}

	assert.Equal(t, []string{"b", "a"}, citedSources([]string{" b", "x", "a", "b"}, supplied))
	assert.Equal(t, []string{}, citedSources(nil, supplied))
}
