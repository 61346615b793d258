package models

// TripRequest is the trip profile a draft is generated for.
type TripRequest struct {
	Region       string   `json:"region"`
	SubTags      []string `json:"sub_tags,omitempty"`
	MainTags     []string `json:"main_tags,omitempty"`
	DurationDays int      `json:"duration_days"`
	Budget       string   `json:"budget,omitempty"`
	Adults       int      `json:"adults,omitempty"`
	Children     int      `json:"children,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// DraftItem is one slot of a generated day. PlaceID is nil for TBD items.
type DraftItem struct {
	Slot      string    `json:"slot"`
	PlaceName string    `json:"place_name"`
	LocalName string    `json:"local_name,omitempty"`
	PlaceID   *int64    `json:"place_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	Match     MatchTier `json:"match_tier"`
	Score     *float64  `json:"match_score,omitempty"`
	TBD       bool      `json:"tbd"`
}

// DraftDay groups the items of one itinerary day.
type DraftDay struct {
	Day   int         `json:"day"`
	Title string      `json:"title,omitempty"`
	Items []DraftItem `json:"items"`
}

// Provenance lists the corpus documents that grounded a draft or answer.
type Provenance struct {
	CorrespondenceIDs []string `json:"correspondence_ids"`
	ItineraryIDs      []string `json:"itinerary_ids"`
	CatalogIDs        []int64  `json:"catalog_ids"`
}

// Draft is a generated itinerary awaiting review.
type Draft struct {
	Days       []DraftDay `json:"days"`
	Provenance Provenance `json:"provenance"`
}

// TBDCount returns the number of items that could not be resolved.
func (d *Draft) TBDCount() int {
	n := 0

	for _, day := range d.Days {
		for _, item := range day.Items {
			if item.TBD {
				n++
			}
		}
	}

	return n
}

// DraftResult is the outcome of a draft run. Draft is nil when the run aborted.
type DraftResult struct {
	Draft       *Draft             `json:"draft"`
	Query       RetrievalQuery     `json:"query"`
	Rerank      []RerankDiagnostic `json:"rerank"`
	Run         PipelineRun        `json:"run"`
	AbortReason string             `json:"abort_reason,omitempty"`
}

// RerankDiagnostic explains how one candidate was scored by the hybrid reranker.
type RerankDiagnostic struct {
	DocumentID      string   `json:"document_id"`
	VectorScore     float64  `json:"vector_score"`
	LexicalScore    float64  `json:"lexical_score"`
	FinalScore      float64  `json:"final_score"`
	MatchedKeywords []string `json:"matched_keywords"`
	OriginalRank    int      `json:"original_rank"`
	FinalRank       int      `json:"final_rank"`
}
