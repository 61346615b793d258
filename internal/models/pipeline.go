package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage names recorded in a PipelineRun.
const (
	StageExpand     = "expand_interests"
	StageQueryText  = "build_query"
	StageEmbed      = "embed_query"
	StageRetrieve   = "retrieve"
	StageRerank     = "rerank"
	StagePrompt     = "assemble_prompt"
	StageComplete   = "completion"
	StageParse      = "parse"
	StageMatch      = "match_places"
	StageAssemble   = "assemble_result"
	StageCorrespond = "search_correspondence"
	StageItinerary  = "search_itineraries"
	StageCatalog    = "catalog_candidates"
)

// Abort reasons.
const (
	AbortNoEmbedding      = "no_embedding"
	AbortNoCandidates     = "no_correspondence_candidates"
	AbortCompletionFailed = "completion_failed"
	AbortUnparseable      = "unparseable_response"
	AbortCancelled        = "cancelled"
)

// StageRecord is the diagnostic entry of one pipeline stage.
type StageRecord struct {
	Name      string             `json:"name"`
	Count     int                `json:"count"`
	Scores    []float64          `json:"scores,omitempty"`
	Elapsed   time.Duration      `json:"elapsed_ns"`
	Error     string             `json:"error,omitempty"`
	Extra     map[string]float64 `json:"extra,omitempty"`
	StartedAt time.Time          `json:"started_at"`
}

// PipelineRun is the per-run diagnostic log. It is filled in even when the run aborts.
type PipelineRun struct {
	ID          uuid.UUID     `json:"id"`
	Stages      []StageRecord `json:"stages"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// NewPipelineRun creates a run with a fresh id.
func NewPipelineRun() PipelineRun {
	return PipelineRun{ID: uuid.Must(uuid.NewV7())}
}

// Aborted reports whether the run stopped before producing a result.
func (r PipelineRun) Aborted() bool {
	return r.AbortReason != ""
}

// Stage returns the record for the named stage.
func (r PipelineRun) Stage(name string) (StageRecord, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}

	return StageRecord{}, false
}
