package service

import (
	"fmt"
	"strings"

	"github.com/tripdesk/groundwork/internal/models"
)

const (
	maxExcerptChars     = 1200
	maxDescriptionChars = 160
)

const draftSystemPrompt = `You are a travel planner for a Korea inbound travel agency.
Plan the itinerary using the grounding material provided. Prefer catalog places and cite them by id.
Respond with JSON only, no prose, in this shape:
{"days":[{"day":1,"title":"...","items":[{"slot":"morning|lunch|afternoon|dinner|evening","place_name":"...","local_name":"...","place_id":123,"note":"..."}]}]}
Omit place_id when the place is not in the catalog.`

const answerSystemPrompt = `You answer customer questions for a travel agency using only the sources provided.
Respond with JSON only: {"answer":"...","source_ids":["..."]}. Cite the ids of the sources you used.
If the sources do not contain the answer, say so in the answer and return an empty source_ids list.`

// BuildQueryText composes the retrieval query from the trip profile and the expanded interests.
func BuildQueryText(req models.TripRequest, expanded string) string {
	parts := []string{}

	if r := strings.TrimSpace(req.Region); r != "" {
		parts = append(parts, r)
	}

	parts = append(parts, expanded)

	if req.DurationDays > 0 {
		parts = append(parts, fmt.Sprintf("%d days", req.DurationDays))
	}

	if b := strings.TrimSpace(req.Budget); b != "" {
		parts = append(parts, b+" budget")
	}

	if party := partyDescription(req); party != "" {
		parts = append(parts, party)
	}

	return strings.Join(parts, ", ")
}

func partyDescription(req models.TripRequest) string {
	switch {
	case req.Adults > 0 && req.Children > 0:
		return fmt.Sprintf("%d adults and %d children", req.Adults, req.Children)
	case req.Adults > 0:
		return fmt.Sprintf("%d adults", req.Adults)
	case req.Children > 0:
		return fmt.Sprintf("%d children", req.Children)
	default:
		return ""
	}
}

// DraftPromptInput is the grounding material for one draft prompt.
type DraftPromptInput struct {
	Request        models.TripRequest
	Interests      string
	Correspondence []models.ScoredDocument
	Itineraries    []models.ScoredDocument
	Catalog        []models.CatalogEntity
}

// BuildDraftPrompt returns the system and user prompts for itinerary generation.
func BuildDraftPrompt(in DraftPromptInput) (system, user string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Trip: %s\n", BuildQueryText(in.Request, in.Interests))

	if n := strings.TrimSpace(in.Request.Notes); n != "" {
		fmt.Fprintf(&b, "Customer notes: %s\n", n)
	}

	fmt.Fprintf(&b, "Plan exactly %d days.\n", max(in.Request.DurationDays, 1))

	writeDocuments(&b, "Relevant past correspondence", in.Correspondence)
	writeDocuments(&b, "Similar past itineraries", in.Itineraries)

	if len(in.Catalog) > 0 {
		b.WriteString("\nCatalog places (id | name | local name | categories | description):\n")

		for _, e := range in.Catalog {
			local := ""
			if e.LocalName != nil {
				local = *e.LocalName
			}

			fmt.Fprintf(&b, "%d | %s | %s | %s | %s\n", e.ID, e.PrimaryName, local,
				strings.Join(e.Categories, ","), excerpt(e.Description, maxDescriptionChars))
		}
	}

	return draftSystemPrompt, b.String()
}

// BuildAnswerPrompt returns the system and user prompts for FAQ answering.
func BuildAnswerPrompt(question string, sources []models.ScoredDocument) (system, user string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(question))
	writeDocuments(&b, "Sources", sources)

	return answerSystemPrompt, b.String()
}

func writeDocuments(b *strings.Builder, heading string, docs []models.ScoredDocument) {
	if len(docs) == 0 {
		return
	}

	fmt.Fprintf(b, "\n%s:\n", heading)

	for _, d := range docs {
		fmt.Fprintf(b, "[%s] %s\n", d.ID, excerpt(d.Text, maxExcerptChars))
	}
}

func excerpt(s string, maxChars int) string {
	s = strings.Join(strings.Fields(s), " ")

	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}

	return string(r[:maxChars]) + "…"
}
