package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
)

// DefaultFuzzyThreshold is the minimum trigram similarity for a fuzzy match (exclusive).
const DefaultFuzzyThreshold = 0.25

// CatalogLookup provides the batched catalog lookups used for entity resolution.
type CatalogLookup interface {
	FindByNameContainment(ctx context.Context, names []string) ([]models.NameCandidate, error)
	FuzzyMatch(ctx context.Context, names []string, threshold float64) ([]models.FuzzyCandidate, error)
}

// PlaceMatcher resolves free-text place names against the catalog through a tiered cascade:
// provided id, exact name, partial name, trigram similarity, unmatched.
type PlaceMatcher struct {
	catalog        CatalogLookup
	fuzzyThreshold float64
	metrics        observability.PipelineMetrics
	logger         *slog.Logger
}

// PlaceMatcherParams configures PlaceMatcher. Metrics may be nil.
type PlaceMatcherParams struct {
	Catalog        CatalogLookup
	FuzzyThreshold float64
	Metrics        observability.PipelineMetrics
	Logger         *slog.Logger
}

// NewPlaceMatcher creates a PlaceMatcher.
func NewPlaceMatcher(p PlaceMatcherParams) *PlaceMatcher {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := p.FuzzyThreshold
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}

	return &PlaceMatcher{
		catalog:        p.Catalog,
		fuzzyThreshold: threshold,
		metrics:        p.Metrics,
		logger:         logger,
	}
}

// probe is one name sent to the catalog on behalf of a query.
type probe struct {
	query int
	name  string
}

// MatchPlaces resolves every query and returns one result per query in input order. It never
// fails: a lookup error is logged and the affected names fall through to the next tier.
func (m *PlaceMatcher) MatchPlaces(ctx context.Context, queries []models.PlaceQuery) []models.MatchResult {
	results := make([]models.MatchResult, len(queries))
	resolved := make([]bool, len(queries))

	var probes []probe

	for i, q := range queries {
		results[i] = models.MatchResult{Tier: models.TierUnmatched}

		if q.ProvidedID != nil {
			id := *q.ProvidedID
			results[i] = models.MatchResult{Tier: models.TierProvided, MatchedEntityID: &id}
			resolved[i] = true

			continue
		}

		for _, name := range []string{q.Name, q.LocalName} {
			if n := strings.TrimSpace(name); n != "" {
				probes = append(probes, probe{query: i, name: n})
			}
		}
	}

	if len(probes) > 0 {
		m.matchByName(ctx, probes, results, resolved)
		m.matchFuzzy(ctx, unresolvedProbes(probes, resolved), results, resolved)
	}

	m.recordTiers(ctx, results)

	return results
}

func unresolvedProbes(probes []probe, resolved []bool) []probe {
	var out []probe

	for _, p := range probes {
		if !resolved[p.query] {
			out = append(out, p)
		}
	}

	return out
}

func probeNames(probes []probe) []string {
	names := make([]string, len(probes))
	for i, p := range probes {
		names[i] = p.name
	}

	return names
}

// matchByName runs the exact and partial tiers over one batched containment lookup.
func (m *PlaceMatcher) matchByName(ctx context.Context, probes []probe, results []models.MatchResult, resolved []bool) {
	candidates, err := m.catalog.FindByNameContainment(ctx, probeNames(probes))
	if err != nil {
		m.logger.Warn("place matcher: containment lookup failed, falling back to fuzzy",
			"error", err,
			"names", len(probes),
		)

		return
	}

	// direct map keyed by normalized primary/local name, per query
	byQuery := make(map[int][]models.CatalogEntity)
	seen := make(map[int]map[int64]bool)

	for _, c := range candidates {
		if c.QueryIndex < 0 || c.QueryIndex >= len(probes) {
			continue
		}

		q := probes[c.QueryIndex].query
		if seen[q] == nil {
			seen[q] = make(map[int64]bool)
		}

		if !seen[q][c.Entity.ID] {
			seen[q][c.Entity.ID] = true
			byQuery[q] = append(byQuery[q], c.Entity)
		}
	}

	namesByQuery := make(map[int][]string)
	for _, p := range probes {
		namesByQuery[p.query] = append(namesByQuery[p.query], p.name)
	}

	for q, entities := range byQuery {
		if resolved[q] {
			continue
		}

		if id, ok := exactMatch(namesByQuery[q], entities); ok {
			score := 1.0
			results[q] = models.MatchResult{Tier: models.TierExact, MatchedEntityID: &id, Score: &score}
			resolved[q] = true

			continue
		}

		if id, score, ok := partialMatch(namesByQuery[q], entities); ok {
			results[q] = models.MatchResult{Tier: models.TierPartial, MatchedEntityID: &id, Score: &score}
			resolved[q] = true
		}
	}
}

// matchFuzzy runs the trigram tier for the probes of still-unresolved queries.
func (m *PlaceMatcher) matchFuzzy(ctx context.Context, probes []probe, results []models.MatchResult, resolved []bool) {
	if len(probes) == 0 {
		return
	}

	candidates, err := m.catalog.FuzzyMatch(ctx, probeNames(probes), m.fuzzyThreshold)
	if err != nil {
		m.logger.Warn("place matcher: fuzzy lookup failed, names left unmatched",
			"error", err,
			"names", len(probes),
		)

		return
	}

	type best struct {
		id    int64
		score float64
	}

	bestByQuery := make(map[int]best)

	for _, c := range candidates {
		if c.QueryIndex < 0 || c.QueryIndex >= len(probes) || c.Score <= m.fuzzyThreshold {
			continue
		}

		q := probes[c.QueryIndex].query

		cur, ok := bestByQuery[q]
		if !ok || c.Score > cur.score || (c.Score == cur.score && c.EntityID < cur.id) {
			bestByQuery[q] = best{id: c.EntityID, score: c.Score}
		}
	}

	for q, b := range bestByQuery {
		if resolved[q] {
			continue
		}

		id, score := b.id, b.score
		results[q] = models.MatchResult{Tier: models.TierFuzzy, MatchedEntityID: &id, Score: &score}
		resolved[q] = true
	}
}

func (m *PlaceMatcher) recordTiers(ctx context.Context, results []models.MatchResult) {
	if m.metrics == nil {
		return
	}

	counts := make(map[models.MatchTier]int)
	for _, r := range results {
		counts[r.Tier]++
	}

	for tier, n := range counts {
		m.metrics.RecordMatchTier(ctx, string(tier), n)
	}
}

// normalizeName lowercases and collapses whitespace.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func entityNames(e models.CatalogEntity) []string {
	names := []string{normalizeName(e.PrimaryName)}
	if e.LocalName != nil && strings.TrimSpace(*e.LocalName) != "" {
		names = append(names, normalizeName(*e.LocalName))
	}

	return names
}

// exactMatch returns the lowest-id entity whose primary or local name equals one of names.
func exactMatch(names []string, entities []models.CatalogEntity) (int64, bool) {
	direct := make(map[string]int64)

	for _, e := range entities {
		for _, n := range entityNames(e) {
			if cur, ok := direct[n]; !ok || e.ID < cur {
				direct[n] = e.ID
			}
		}
	}

	var (
		bestID int64
		found  bool
	)

	for _, name := range names {
		if id, ok := direct[normalizeName(name)]; ok && (!found || id < bestID) {
			bestID, found = id, true
		}
	}

	return bestID, found
}

// partialMatch picks, among entities whose name contains or is contained in a query name, the one
// with the smallest length difference, then the lowest id. Score is shorter/longer length.
func partialMatch(names []string, entities []models.CatalogEntity) (int64, float64, bool) {
	var (
		bestID    int64
		bestDiff  = -1
		bestScore float64
	)

	for _, name := range names {
		qn := normalizeName(name)
		ql := utf8.RuneCountInString(qn)

		for _, e := range entities {
			for _, en := range entityNames(e) {
				if en == "" || !(strings.Contains(en, qn) || strings.Contains(qn, en)) {
					continue
				}

				el := utf8.RuneCountInString(en)
				diff := abs(el - ql)

				if bestDiff < 0 || diff < bestDiff || (diff == bestDiff && e.ID < bestID) {
					bestID, bestDiff = e.ID, diff
					bestScore = float64(min(el, ql)) / float64(max(el, ql))
				}
			}
		}
	}

	return bestID, bestScore, bestDiff >= 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}
