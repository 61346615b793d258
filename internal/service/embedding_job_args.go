package service

import (
	"context"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	documentEmbeddingKind = "document_embedding"
	// EmbeddingsQueueName is the River queue used for document embedding jobs.
	EmbeddingsQueueName = "embeddings"
)

// uniqueEmbeddingStates are the job states that block a second job for the same document.
// Finished jobs are excluded. River requires pending in any ByState list.
var uniqueEmbeddingStates = []rivertype.JobState{
	rivertype.JobStatePending,
	rivertype.JobStateAvailable,
	rivertype.JobStateRunning,
	rivertype.JobStateRetryable,
	rivertype.JobStateScheduled,
}

// JobInserter inserts River jobs (e.g. *river.Client).
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// DocumentEmbeddingArgs is the job payload for refreshing the embedding of one corpus document.
// Uniqueness is by DocumentID so repeated edits of the same document collapse into one pending job.
type DocumentEmbeddingArgs struct {
	DocumentID string `json:"document_id" river:"unique"`
}

// Kind returns the River job kind.
func (DocumentEmbeddingArgs) Kind() string { return documentEmbeddingKind }

var _ river.JobArgs = DocumentEmbeddingArgs{}

// EmbeddingEnqueuer enqueues one document_embedding job per document.
type EmbeddingEnqueuer struct {
	inserter    JobInserter
	queueName   string
	maxAttempts int
}

// NewEmbeddingEnqueuer creates an enqueuer. An empty queueName uses EmbeddingsQueueName.
func NewEmbeddingEnqueuer(inserter JobInserter, queueName string, maxAttempts int) *EmbeddingEnqueuer {
	if queueName == "" {
		queueName = EmbeddingsQueueName
	}

	return &EmbeddingEnqueuer{inserter: inserter, queueName: queueName, maxAttempts: maxAttempts}
}

// insertOpts returns the options shared by every embedding job.
func (e *EmbeddingEnqueuer) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       e.queueName,
		MaxAttempts: e.maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByState: uniqueEmbeddingStates},
	}
}

// Enqueue inserts a job for documentID. A duplicate of a job that has not yet finished is not an error.
func (e *EmbeddingEnqueuer) Enqueue(ctx context.Context, documentID string) (bool, error) {
	res, err := e.inserter.Insert(ctx, DocumentEmbeddingArgs{DocumentID: documentID}, e.insertOpts())
	if err != nil {
		return false, err //nolint:wrapcheck // caller wraps with document context
	}

	return res != nil && !res.UniqueSkippedAsDuplicate, nil
}
