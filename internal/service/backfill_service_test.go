package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
)

func TestTextHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", TextHash(""))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", TextHash("hello"))
}

func TestBackfillService_Run(t *testing.T) {
	ctx := context.Background()

	targets := []models.EmbeddingTarget{
		{ID: "a", Text: "palace tour"},
		{ID: "b", Text: "   "},
		{ID: "c", Text: "fails to embed"},
		{ID: "d", Text: "fails to store"},
		{ID: "e", Text: "river cruise"},
	}

	store := &mockTargetStore{
		listFunc: func(_ context.Context, st models.SourceType, model string) ([]models.EmbeddingTarget, error) {
			assert.Equal(t, models.SourceKnowledgeEntry, st)
			assert.Equal(t, "test-model", model)

			return targets, nil
		},
		setFunc: func(_ context.Context, id string, _ []float32, model, _ string) error {
			assert.Equal(t, "test-model", model)

			if id == "d" {
				return errors.New("constraint violation")
			}

			return nil
		},
	}
	embedder := &mockEmbedder{generateFunc: func(_ context.Context, text string) []float32 {
		if text == "fails to embed" {
			return nil
		}

		return []float32{1, 2, 3}
	}}

	svc := NewBackfillService(BackfillServiceParams{Store: store, Embedder: embedder, Concurrency: 2, RatePerSecond: 1000})

	stats, err := svc.Run(ctx, models.SourceKnowledgeEntry)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Candidates)
	assert.Equal(t, 2, stats.Embedded)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, TextHash("palace tour"), store.stored["a"])
	assert.Equal(t, 4, embedder.callCount())
	assert.False(t, svc.Running())
}

type recordingProgress struct {
	mu       sync.Mutex
	total    int
	done     int
	finished bool
}

func (p *recordingProgress) Start(total int) { p.total = total }

func (p *recordingProgress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
}

func (p *recordingProgress) Finish() { p.finished = true }

func TestBackfillService_Run_reportsProgress(t *testing.T) {
	store := &mockTargetStore{listFunc: func(context.Context, models.SourceType, string) ([]models.EmbeddingTarget, error) {
		return []models.EmbeddingTarget{{ID: "a", Text: "one"}, {ID: "b", Text: " "}, {ID: "c", Text: "three"}}, nil
	}}
	progress := &recordingProgress{}

	svc := NewBackfillService(BackfillServiceParams{Store: store, Embedder: &mockEmbedder{}, Progress: progress})

	_, err := svc.Run(context.Background(), models.SourceTour)
	require.NoError(t, err)

	assert.Equal(t, 3, progress.total)
	assert.Equal(t, 3, progress.done)
	assert.True(t, progress.finished)
}

func TestBackfillService_Run_singleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	store := &mockTargetStore{listFunc: func(context.Context, models.SourceType, string) ([]models.EmbeddingTarget, error) {
		close(started)
		<-release

		return nil, nil
	}}

	svc := NewBackfillService(BackfillServiceParams{Store: store, Embedder: &mockEmbedder{}})

	done := make(chan error, 1)

	go func() {
		_, err := svc.Run(context.Background(), models.SourceTour)
		done <- err
	}()

	<-started
	assert.True(t, svc.Running())

	_, err := svc.Run(context.Background(), models.SourceTour)
	assert.ErrorIs(t, err, ErrBackfillRunning)

	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not finish")
	}

	assert.False(t, svc.Running())
}

func TestBackfillService_Run_errors(t *testing.T) {
	svc := NewBackfillService(BackfillServiceParams{
		Store: &mockTargetStore{listFunc: func(context.Context, models.SourceType, string) ([]models.EmbeddingTarget, error) {
			return nil, errors.New("db down")
		}},
		Embedder: &mockEmbedder{},
	})

	_, err := svc.Run(context.Background(), models.SourceType("nope"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Run(context.Background(), models.SourceTour)
	require.Error(t, err)
	assert.False(t, svc.Running())
}

func TestBackfillService_Enqueue(t *testing.T) {
	store := &mockTargetStore{listFunc: func(context.Context, models.SourceType, string) ([]models.EmbeddingTarget, error) {
		return []models.EmbeddingTarget{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil
	}}

	inserter := &mockJobInserter{insertFunc: func(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
		switch args.(DocumentEmbeddingArgs).DocumentID {
		case "b":
			return &rivertype.JobInsertResult{Job: &rivertype.JobRow{}, UniqueSkippedAsDuplicate: true}, nil
		case "c":
			return nil, errors.New("insert failed")
		default:
			return &rivertype.JobInsertResult{Job: &rivertype.JobRow{}}, nil
		}
	}}

	svc := NewBackfillService(BackfillServiceParams{
		Store:    store,
		Embedder: &mockEmbedder{},
		Enqueuer: NewEmbeddingEnqueuer(inserter, "", 3),
	})

	n, err := svc.Enqueue(context.Background(), models.SourceCorrespondence)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, inserter.args, 3)

	t.Run("without enqueuer", func(t *testing.T) {
		_, err := NewBackfillService(BackfillServiceParams{Store: store, Embedder: &mockEmbedder{}}).
			Enqueue(context.Background(), models.SourceCorrespondence)
		assert.Error(t, err)
	})
}

func TestEmbeddingEnqueuer_Enqueue(t *testing.T) {
	inserter := &mockJobInserter{}
	enq := NewEmbeddingEnqueuer(inserter, "", 4)

	inserted, err := enq.Enqueue(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	require.Len(t, inserter.opts, 1)
	opts := inserter.opts[0]
	assert.Equal(t, EmbeddingsQueueName, opts.Queue)
	assert.Equal(t, 4, opts.MaxAttempts)
	assert.True(t, opts.UniqueOpts.ByArgs)
	assert.Zero(t, opts.UniqueOpts.ByPeriod)
	assert.Contains(t, opts.UniqueOpts.ByState, rivertype.JobStatePending)
	assert.Contains(t, opts.UniqueOpts.ByState, rivertype.JobStateRunning)
	assert.NotContains(t, opts.UniqueOpts.ByState, rivertype.JobStateCompleted)
	assert.NotContains(t, opts.UniqueOpts.ByState, rivertype.JobStateDiscarded)
	assert.NotContains(t, opts.UniqueOpts.ByState, rivertype.JobStateCancelled)

	assert.Equal(t, DocumentEmbeddingArgs{DocumentID: "doc-1"}, inserter.args[0])
	assert.Equal(t, "document_embedding", DocumentEmbeddingArgs{}.Kind())
}
