package models

import "time"

// DuplicateGroup is a set of near-identical documents.
// MaxSimilarity is the highest pairwise similarity seen between members.
type DuplicateGroup struct {
	MemberIDs     []string `json:"member_ids"`
	MaxSimilarity float64  `json:"max_similarity"`
}

// LabeledEmbedding is an embedded document and its category, if any.
type LabeledEmbedding struct {
	ID        string
	Text      string
	Category  *string
	Embedding []float32
}

// Category sources stored with an assignment.
const (
	CategorySourceCentroid = "centroid"
	CategorySourceLLM      = "llm"
	CategoryOther          = "other"
)

// CategoryAssignment is a category proposed for an unlabeled document.
type CategoryAssignment struct {
	DocumentID string   `json:"document_id"`
	Category   string   `json:"category"`
	Similarity *float64 `json:"similarity,omitempty"`
	Source     string   `json:"source"`
}

// ClassificationResult summarizes one classification pass.
type ClassificationResult struct {
	Centroids   []string             `json:"centroids"`
	Assignments []CategoryAssignment `json:"assignments"`
	ColdStart   bool                 `json:"cold_start"`
}

// BackfillStats summarizes one embedding backfill run.
type BackfillStats struct {
	SourceType SourceType    `json:"source_type"`
	Candidates int           `json:"candidates"`
	Embedded   int           `json:"embedded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}
