package models

// CatalogEntity is a canonical place of the catalog. It is read-only for this service.
type CatalogEntity struct {
	ID          int64    `json:"id"`
	PrimaryName string   `json:"primary_name"`
	LocalName   *string  `json:"local_name,omitempty"`
	Categories  []string `json:"categories"`
	Region      *string  `json:"region,omitempty"`
	Description string   `json:"description,omitempty"`
}

// CatalogFilter selects catalog candidates for prompt grounding.
type CatalogFilter struct {
	Categories []string
	Region     string
	Limit      int
}

// PlaceQuery is one free-text place name to resolve against the catalog.
// ProvidedID is set when the caller already knows the entity.
type PlaceQuery struct {
	Name       string `json:"name"`
	LocalName  string `json:"local_name,omitempty"`
	ProvidedID *int64 `json:"provided_id,omitempty"`
}

// MatchTier records which resolution step produced a match.
type MatchTier string

// Match tiers in the order they are tried.
const (
	TierProvided  MatchTier = "provided"
	TierExact     MatchTier = "exact"
	TierPartial   MatchTier = "partial"
	TierFuzzy     MatchTier = "fuzzy"
	TierUnmatched MatchTier = "unmatched"
)

// MatchResult is the resolution of one PlaceQuery. Results are returned in input order.
type MatchResult struct {
	Tier            MatchTier `json:"tier"`
	MatchedEntityID *int64    `json:"matched_entity_id,omitempty"`
	Score           *float64  `json:"score,omitempty"`
}

// Resolved reports whether the result points at a catalog entity.
func (m MatchResult) Resolved() bool {
	return m.MatchedEntityID != nil
}

// NameCandidate is a catalog row returned by the batched containment lookup, tagged with the
// index of the query name it matched.
type NameCandidate struct {
	QueryIndex int
	Entity     CatalogEntity
}

// FuzzyCandidate is the best trigram hit for one query name.
type FuzzyCandidate struct {
	QueryIndex int
	EntityID   int64
	Score      float64
}
