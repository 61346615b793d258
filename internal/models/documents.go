// Package models contains the domain types shared by repositories, services and handlers.
package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SourceType identifies which corpus a document belongs to.
type SourceType string

// Corpus source types.
const (
	SourceCorrespondence SourceType = "correspondence"
	SourcePastItinerary  SourceType = "past_itinerary"
	SourceKnowledgeEntry SourceType = "knowledge_entry"
	SourceTour           SourceType = "tour"
)

// AllSourceTypes lists every known corpus.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceCorrespondence, SourcePastItinerary, SourceKnowledgeEntry, SourceTour}
}

// IsValid reports whether s is a known source type.
func (s SourceType) IsValid() bool {
	return slices.Contains(AllSourceTypes(), s)
}

// ErrUnknownSourceType is returned by ParseSourceTypes for a name that is not a corpus.
var ErrUnknownSourceType = errors.New("unknown source type")

// ParseSourceTypes parses a comma-separated list of source types. Empty input or "all" selects
// every corpus; duplicates are dropped and order is kept.
func ParseSourceTypes(list string) ([]SourceType, error) {
	list = strings.TrimSpace(list)
	if list == "" || strings.EqualFold(list, "all") {
		return AllSourceTypes(), nil
	}

	var out []SourceType

	for name := range strings.SplitSeq(list, ",") {
		st := SourceType(strings.ToLower(strings.TrimSpace(name)))
		if st == "" {
			continue
		}

		if !st.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, name)
		}

		if !slices.Contains(out, st) {
			out = append(out, st)
		}
	}

	if len(out) == 0 {
		return AllSourceTypes(), nil
	}

	return out, nil
}

// CorpusDocument is one text blob of a corpus. A nil Embedding means the document has not been
// embedded yet and is invisible to vector search.
type CorpusDocument struct {
	ID             string         `json:"id"`
	SourceType     SourceType     `json:"source_type"`
	Text           string         `json:"text"`
	Embedding      []float32      `json:"-"`
	EmbeddingModel *string        `json:"embedding_model,omitempty"`
	TextHash       *string        `json:"text_hash,omitempty"`
	Category       *string        `json:"category,omitempty"`
	CategorySource *string        `json:"category_source,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ScoredDocument is a vector search hit. Similarity is 1 - cosine distance, within [0, 1].
type ScoredDocument struct {
	ID         string         `json:"id"`
	SourceType SourceType     `json:"source_type"`
	Text       string         `json:"text"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchParams describes one nearest-neighbour query against a set of corpora.
type SearchParams struct {
	Embedding     []float32
	SourceTypes   []SourceType
	Limit         int
	MinSimilarity float64
	// ExcludeID skips one document, e.g. the probe itself in duplicate detection.
	ExcludeID string
}

// RetrievalQuery is the request-scoped query used for one pipeline run.
type RetrievalQuery struct {
	RawText      string    `json:"raw_text"`
	ExpandedText string    `json:"expanded_text"`
	Embedding    []float32 `json:"-"`
}

// EmbeddingTarget is a document whose embedding is missing or stale.
type EmbeddingTarget struct {
	ID       string
	Text     string
	TextHash *string
}

// DocumentInput is one document to create or replace. A nil Category leaves an existing label
// untouched; a non-nil one is stored as a human label.
type DocumentInput struct {
	ID         string
	SourceType SourceType
	Text       string
	Category   *string
	Metadata   map[string]any
}
