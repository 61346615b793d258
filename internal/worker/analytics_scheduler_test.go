package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripdesk/groundwork/internal/models"
)

type mockDuplicateFinder struct {
	mu    sync.Mutex
	calls []models.SourceType
	err   error
}

func (m *mockDuplicateFinder) FindDuplicates(_ context.Context, st models.SourceType) ([]models.DuplicateGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, st)

	return nil, m.err
}

func (m *mockDuplicateFinder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

type mockClassifier struct {
	classifyFunc func(ctx context.Context, st models.SourceType, apply bool) (*models.ClassificationResult, error)
}

func (m *mockClassifier) Classify(ctx context.Context, st models.SourceType, apply bool) (*models.ClassificationResult, error) {
	return m.classifyFunc(ctx, st, apply)
}

func TestAnalyticsScheduler_RunOnce(t *testing.T) {
	t.Run("runs both jobs for every corpus and applies assignments", func(t *testing.T) {
		dup := &mockDuplicateFinder{}

		var applied []bool

		cls := &mockClassifier{classifyFunc: func(_ context.Context, _ models.SourceType, apply bool) (*models.ClassificationResult, error) {
			applied = append(applied, apply)

			return &models.ClassificationResult{}, nil
		}}

		s := NewAnalyticsScheduler(dup, cls, []models.SourceType{models.SourceCorrespondence, models.SourceKnowledgeEntry}, time.Minute, nil)
		s.RunOnce(context.Background())

		assert.Equal(t, []models.SourceType{models.SourceCorrespondence, models.SourceKnowledgeEntry}, dup.calls)
		assert.Equal(t, []bool{true, true}, applied)
	})

	t.Run("failures do not stop the pass", func(t *testing.T) {
		dup := &mockDuplicateFinder{err: errors.New("db down")}
		calls := 0
		cls := &mockClassifier{classifyFunc: func(context.Context, models.SourceType, bool) (*models.ClassificationResult, error) {
			calls++

			return nil, errors.New("db down")
		}}

		s := NewAnalyticsScheduler(dup, cls, nil, time.Minute, nil)
		s.RunOnce(context.Background())

		assert.Len(t, dup.calls, len(models.AllSourceTypes()))
		assert.Equal(t, len(models.AllSourceTypes()), calls)
	})

	t.Run("cancelled context stops early", func(t *testing.T) {
		dup := &mockDuplicateFinder{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		NewAnalyticsScheduler(dup, nil, nil, time.Minute, nil).RunOnce(ctx)
		assert.Empty(t, dup.calls)
	})
}

func TestAnalyticsScheduler_Start(t *testing.T) {
	dup := &mockDuplicateFinder{}
	s := NewAnalyticsScheduler(dup, nil, []models.SourceType{models.SourceTour}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return dup.count() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
