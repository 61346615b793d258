package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
)

// Defaults for duplicate detection.
const (
	DefaultDuplicateThreshold = 0.92
	DefaultDuplicateNeighbors = 5
)

// EmbeddedDocumentLister lists the embedded documents of a corpus.
type EmbeddedDocumentLister interface {
	ListEmbedded(ctx context.Context, sourceType models.SourceType) ([]models.LabeledEmbedding, error)
}

// DuplicateService finds clusters of near-identical documents.
type DuplicateService struct {
	documents   EmbeddedDocumentLister
	search      CorpusSearcher
	threshold   float64
	neighbors   int
	concurrency int
	delay       time.Duration
	metrics     observability.JobMetrics
	logger      *slog.Logger
}

// DuplicateServiceParams configures DuplicateService. Zero values take the defaults
// (threshold 0.92, 5 neighbours, window 5, 200ms between windows). Metrics may be nil.
type DuplicateServiceParams struct {
	Documents   EmbeddedDocumentLister
	Search      CorpusSearcher
	Threshold   float64
	Neighbors   int
	Concurrency int
	Delay       time.Duration
	Metrics     observability.JobMetrics
	Logger      *slog.Logger
}

// NewDuplicateService creates a DuplicateService.
func NewDuplicateService(p DuplicateServiceParams) *DuplicateService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &DuplicateService{
		documents:   p.Documents,
		search:      p.Search,
		threshold:   p.Threshold,
		neighbors:   p.Neighbors,
		concurrency: p.Concurrency,
		delay:       p.Delay,
		metrics:     p.Metrics,
		logger:      logger,
	}

	if s.threshold <= 0 {
		s.threshold = DefaultDuplicateThreshold
	}

	if s.neighbors <= 0 {
		s.neighbors = DefaultDuplicateNeighbors
	}

	if s.concurrency <= 0 {
		s.concurrency = DefaultBatchConcurrency
	}

	if s.delay < 0 {
		s.delay = 0
	}

	return s
}

type duplicateEdge struct {
	a, b       string
	similarity float64
}

// FindDuplicates groups the embedded documents of sourceType whose similarity reaches the
// threshold, merging transitively. Groups are sorted by MaxSimilarity, highest first.
func (s *DuplicateService) FindDuplicates(ctx context.Context, sourceType models.SourceType) ([]models.DuplicateGroup, error) {
	if !sourceType.IsValid() {
		return nil, apperrors.NewValidationError("source_type", "unknown source type")
	}

	start := time.Now()

	docs, err := s.documents.ListEmbedded(ctx, sourceType)
	if err != nil {
		return nil, fmt.Errorf("list embedded documents: %w", err)
	}

	var (
		mu     sync.Mutex
		edges  []duplicateEdge
		failed int
	)

	err = runWindowed(ctx, len(docs), s.concurrency, s.delay, func(ctx context.Context, i int) {
		doc := docs[i]

		neighbours, err := s.search.SearchSimilar(ctx, models.SearchParams{
			Embedding:     doc.Embedding,
			SourceTypes:   []models.SourceType{sourceType},
			Limit:         s.neighbors,
			MinSimilarity: s.threshold,
			ExcludeID:     doc.ID,
		})

		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			failed++

			s.logger.Warn("duplicates: neighbour lookup failed", "document_id", doc.ID, "error", err)

			return
		}

		for _, n := range neighbours {
			if n.Similarity >= s.threshold && n.ID != doc.ID {
				edges = append(edges, duplicateEdge{a: doc.ID, b: n.ID, similarity: n.Similarity})
			}
		}
	})
	if err != nil {
		return nil, err
	}

	groups := groupDuplicates(edges)

	if s.metrics != nil {
		s.metrics.RecordDuplicateGroups(ctx, string(sourceType), len(groups))
	}

	s.logger.Info("duplicates: detection finished",
		"source_type", sourceType,
		"documents", len(docs),
		"edges", len(edges),
		"groups", len(groups),
		"failed_lookups", failed,
		"elapsed", time.Since(start),
	)

	return groups, nil
}

// groupDuplicates merges edges with union-find and reports the maximum pairwise similarity per
// group. Members are sorted; groups are sorted by MaxSimilarity desc, then first member.
func groupDuplicates(edges []duplicateEdge) []models.DuplicateGroup {
	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.a, e.b)
	}

	members := make(map[string][]string)

	for id := range uf.parent {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}

	maxSim := make(map[string]float64)

	for _, e := range edges {
		root := uf.find(e.a)
		if e.similarity > maxSim[root] {
			maxSim[root] = e.similarity
		}
	}

	groups := make([]models.DuplicateGroup, 0, len(members))

	for root, ids := range members {
		if len(ids) < 2 {
			continue
		}

		slices.Sort(ids)
		groups = append(groups, models.DuplicateGroup{MemberIDs: ids, MaxSimilarity: maxSim[root]})
	}

	slices.SortFunc(groups, func(a, b models.DuplicateGroup) int {
		switch {
		case a.MaxSimilarity > b.MaxSimilarity:
			return -1
		case a.MaxSimilarity < b.MaxSimilarity:
			return 1
		default:
			return strings.Compare(a.MemberIDs[0], b.MemberIDs[0])
		}
	})

	return groups
}
