package service

import (
	"slices"
	"strings"

	"github.com/tripdesk/groundwork/internal/models"
)

// Hybrid weights for drafts and for FAQ answers.
const (
	DefaultVectorWeight  = 0.4
	DefaultLexicalWeight = 0.6
	AnswerVectorWeight   = 0.5
	AnswerLexicalWeight  = 0.5
)

// Reranker combines vector similarity with keyword overlap.
type Reranker struct {
	vectorWeight  float64
	lexicalWeight float64
}

// NewReranker creates a Reranker. Negative weights are treated as zero.
func NewReranker(vectorWeight, lexicalWeight float64) *Reranker {
	return &Reranker{
		vectorWeight:  max(vectorWeight, 0),
		lexicalWeight: max(lexicalWeight, 0),
	}
}

// Weights returns the vector and lexical weights.
func (r *Reranker) Weights() (vector, lexical float64) {
	return r.vectorWeight, r.lexicalWeight
}

// RerankOutput holds the reranked candidates and one diagnostic per input candidate.
type RerankOutput struct {
	Ordered     []models.ScoredDocument
	Diagnostics []models.RerankDiagnostic
}

type scored struct {
	doc  models.ScoredDocument
	diag models.RerankDiagnostic
}

// Rerank scores candidates as vectorSimilarity*vectorWeight + lexicalOverlap*lexicalWeight and
// keeps the best limit (limit <= 0 keeps all). Ties keep their original order. With no keywords
// the input order is kept and final score equals vector similarity.
func (r *Reranker) Rerank(candidates []models.ScoredDocument, keywords []string, limit int) RerankOutput {
	kws := normalizeKeywords(keywords)

	items := make([]scored, len(candidates))

	for i, c := range candidates {
		d := models.RerankDiagnostic{
			DocumentID:      c.ID,
			VectorScore:     c.Similarity,
			MatchedKeywords: []string{},
			OriginalRank:    i + 1,
		}

		if len(kws) == 0 {
			d.FinalScore = c.Similarity
		} else {
			text := strings.ToLower(c.Text)
			for _, kw := range kws {
				if strings.Contains(text, kw) {
					d.MatchedKeywords = append(d.MatchedKeywords, kw)
				}
			}

			d.LexicalScore = float64(len(d.MatchedKeywords)) / float64(len(kws))
			d.FinalScore = c.Similarity*r.vectorWeight + d.LexicalScore*r.lexicalWeight
		}

		items[i] = scored{doc: c, diag: d}
	}

	if len(kws) > 0 {
		slices.SortStableFunc(items, func(a, b scored) int {
			switch {
			case a.diag.FinalScore > b.diag.FinalScore:
				return -1
			case a.diag.FinalScore < b.diag.FinalScore:
				return 1
			default:
				return 0
			}
		})
	}

	keep := len(items)
	if limit > 0 && limit < keep {
		keep = limit
	}

	out := RerankOutput{
		Ordered:     make([]models.ScoredDocument, 0, keep),
		Diagnostics: make([]models.RerankDiagnostic, 0, len(items)),
	}

	for rank, it := range items {
		it.diag.FinalRank = rank + 1
		out.Diagnostics = append(out.Diagnostics, it.diag)

		if rank < keep {
			out.Ordered = append(out.Ordered, it.doc)
		}
	}

	return out
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))

	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}

	return out
}
