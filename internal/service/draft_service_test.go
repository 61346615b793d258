package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
	"github.com/tripdesk/groundwork/internal/models"
)

const draftCompletion = "Here is the draft:\n```json\n" + `{"days":[
 {"day":1,"title":"Palaces","items":[
  {"slot":"morning","place_name":"Gyeongbokgung","local_name":"경복궁","place_id":"1","note":"hanbok rental"},
  {"slot":"afternoon","place_name":"Mystery Cafe","place_id":99}
 ]},
 {"title":"K-pop","items":[{"slot":"evening","place_name":"HYBE Insight","place_id":null}]}
]}` + "\n```"

func searchByCorpus(correspondence, itineraries []models.ScoredDocument) func(context.Context, models.SearchParams) []models.ScoredDocument {
	return func(_ context.Context, p models.SearchParams) []models.ScoredDocument {
		switch p.SourceTypes[0] {
		case models.SourceCorrespondence:
			return correspondence
		case models.SourcePastItinerary:
			return itineraries
		default:
			return []models.ScoredDocument{}
		}
	}
}

func newTestDraftService(search *mockQuerySearcher, catalog *mockCatalog, completer *mockCompleter, matcher *mockPlaceResolver) *DraftService {
	return NewDraftService(DraftServiceParams{
		Search:    search,
		Catalog:   catalog,
		Completer: completer,
		Matcher:   matcher,
		Config:    DraftConfig{TopK: 2, CandidateMultiplier: 3, MinSimilarity: 0.3, CatalogFloor: 2},
	})
}

func stageNames(run models.PipelineRun) []string {
	out := make([]string, len(run.Stages))
	for i, s := range run.Stages {
		out[i] = s.Name
	}

	return out
}

func TestDraftService_GenerateDraft(t *testing.T) {
	ctx := context.Background()
	req := models.TripRequest{Region: "Seoul", SubTags: []string{"kpop"}, MainTags: []string{"culture"}, DurationDays: 2, Adults: 2}

	t.Run("success", func(t *testing.T) {
		search := &mockQuerySearcher{searchFunc: searchByCorpus(
			[]models.ScoredDocument{
				doc("c1", 0.9, "river cruise"),
				doc("c2", 0.8, "kpop dance class near the palaces"),
				doc("c3", 0.7, "museum"),
			},
			[]models.ScoredDocument{doc("i1", 0.6, "3 day seoul")},
		)}
		catalog := &mockCatalog{candidatesFunc: func(context.Context, models.CatalogFilter) ([]models.CatalogEntity, error) {
			return []models.CatalogEntity{entity(1, "Gyeongbokgung", "경복궁"), entity(2, "HYBE Insight", "")}, nil
		}}
		completer := &mockCompleter{completeFunc: func(_ context.Context, req completion.Request) (string, error) {
			assert.NotEmpty(t, req.System)
			assert.Contains(t, req.Prompt, "Seoul")

			return draftCompletion, nil
		}}
		matcher := &mockPlaceResolver{}

		res, err := newTestDraftService(search, catalog, completer, matcher).GenerateDraft(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, res.Draft)
		assert.Empty(t, res.AbortReason)

		require.Len(t, res.Draft.Days, 2)
		assert.Equal(t, 2, res.Draft.Days[1].Day)

		items := res.Draft.Days[0].Items
		require.Len(t, items, 2)
		assert.Equal(t, models.TierProvided, items[0].Match)
		assert.Equal(t, int64(1), *items[0].PlaceID)
		assert.False(t, items[0].TBD)
		assert.True(t, items[1].TBD)
		assert.Nil(t, items[1].PlaceID)
		assert.Equal(t, 2, res.Draft.TBDCount())

		require.Len(t, matcher.queries, 3)
		assert.Nil(t, matcher.queries[1].ProvidedID)

		assert.Equal(t, []string{"c2", "c1"}, res.Draft.Provenance.CorrespondenceIDs)
		assert.Equal(t, []string{"i1"}, res.Draft.Provenance.ItineraryIDs)
		assert.Equal(t, []int64{1}, res.Draft.Provenance.CatalogIDs)
		assert.Len(t, res.Rerank, 3)

		assert.Contains(t, res.Query.ExpandedText, "kpop dance class")
		assert.NotEmpty(t, res.Query.Embedding)
		assert.Contains(t, stageNames(res.Run), models.StageAssemble)
		assert.Contains(t, stageNames(res.Run), models.StageCatalog)
		assert.Len(t, completer.requests, 1)
	})

	t.Run("validation error", func(t *testing.T) {
		svc := newTestDraftService(&mockQuerySearcher{}, &mockCatalog{}, &mockCompleter{}, &mockPlaceResolver{})

		for _, bad := range []models.TripRequest{
			{DurationDays: 0},
			{DurationDays: 31},
			{DurationDays: 2, Adults: -1},
		} {
			_, err := svc.GenerateDraft(ctx, bad)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		}
	})

	t.Run("no embedding aborts before retrieval", func(t *testing.T) {
		searched := false
		search := &mockQuerySearcher{
			embedFunc: func(context.Context, string) []float32 { return nil },
			searchFunc: func(context.Context, models.SearchParams) []models.ScoredDocument {
				searched = true

				return nil
			},
		}
		completer := &mockCompleter{}

		res, err := newTestDraftService(search, &mockCatalog{}, completer, &mockPlaceResolver{}).GenerateDraft(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, res.Draft)
		assert.Equal(t, models.AbortNoEmbedding, res.AbortReason)
		assert.Equal(t, models.AbortNoEmbedding, res.Run.AbortReason)
		assert.False(t, searched)
		assert.Empty(t, completer.requests)
	})

	t.Run("no correspondence aborts before completion", func(t *testing.T) {
		completer := &mockCompleter{}
		search := &mockQuerySearcher{searchFunc: searchByCorpus(nil, []models.ScoredDocument{doc("i1", 0.9, "")})}

		res, err := newTestDraftService(search, &mockCatalog{}, completer, &mockPlaceResolver{}).GenerateDraft(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.AbortNoCandidates, res.AbortReason)
		assert.Empty(t, completer.requests)
		assert.Contains(t, stageNames(res.Run), models.StageRetrieve)
	})

	t.Run("completion failure", func(t *testing.T) {
		search := &mockQuerySearcher{searchFunc: searchByCorpus([]models.ScoredDocument{doc("c1", 0.9, "")}, nil)}
		completer := &mockCompleter{completeFunc: func(context.Context, completion.Request) (string, error) {
			return "", errors.New("provider down")
		}}

		res, err := newTestDraftService(search, &mockCatalog{}, completer, &mockPlaceResolver{}).GenerateDraft(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.AbortCompletionFailed, res.AbortReason)

		last := res.Run.Stages[len(res.Run.Stages)-1]
		assert.Equal(t, models.StageComplete, last.Name)
		assert.Equal(t, "provider down", last.Error)
	})

	t.Run("unparseable completion", func(t *testing.T) {
		search := &mockQuerySearcher{searchFunc: searchByCorpus([]models.ScoredDocument{doc("c1", 0.9, "")}, nil)}

		for _, raw := range []string{"I cannot help with that.", `{"days":[]}`} {
			completer := &mockCompleter{completeFunc: func(context.Context, completion.Request) (string, error) {
				return raw, nil
			}}

			matcher := &mockPlaceResolver{}
			res, err := newTestDraftService(search, &mockCatalog{}, completer, matcher).GenerateDraft(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, models.AbortUnparseable, res.AbortReason)
			assert.Nil(t, matcher.queries)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		search := &mockQuerySearcher{embedFunc: func(context.Context, string) []float32 {
			cancel()

			return nil
		}}

		res, err := newTestDraftService(search, &mockCatalog{}, &mockCompleter{}, &mockPlaceResolver{}).GenerateDraft(cctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.AbortCancelled, res.AbortReason)
	})
}

func TestDraftService_catalogCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("tops up with region-only rows below the floor", func(t *testing.T) {
		catalog := &mockCatalog{candidatesFunc: func(_ context.Context, f models.CatalogFilter) ([]models.CatalogEntity, error) {
			if len(f.Categories) > 0 {
				return []models.CatalogEntity{entity(1, "A", "")}, nil
			}

			return []models.CatalogEntity{entity(1, "A", ""), entity(2, "B", ""), entity(3, "C", "")}, nil
		}}
		svc := NewDraftService(DraftServiceParams{Catalog: catalog, Config: DraftConfig{CatalogFloor: 3}})

		got, fallback := svc.catalogCandidates(ctx, "Busan", []string{"beach"})

		assert.True(t, fallback)
		require.Len(t, got, 3)
		assert.Equal(t, int64(2), got[1].ID)
		require.Len(t, catalog.filters, 2)
		assert.Empty(t, catalog.filters[1].Categories)
		assert.Equal(t, "Busan", catalog.filters[1].Region)
	})

	t.Run("enough rows skips fallback", func(t *testing.T) {
		catalog := &mockCatalog{candidatesFunc: func(context.Context, models.CatalogFilter) ([]models.CatalogEntity, error) {
			return []models.CatalogEntity{entity(1, "A", ""), entity(2, "B", "")}, nil
		}}
		svc := NewDraftService(DraftServiceParams{Catalog: catalog, Config: DraftConfig{CatalogFloor: 2}})

		_, fallback := svc.catalogCandidates(ctx, "Seoul", []string{"culture"})

		assert.False(t, fallback)
		assert.Len(t, catalog.filters, 1)
	})

	t.Run("lookup failure degrades to fallback", func(t *testing.T) {
		catalog := &mockCatalog{candidatesFunc: func(_ context.Context, f models.CatalogFilter) ([]models.CatalogEntity, error) {
			if len(f.Categories) > 0 {
				return nil, errors.New("boom")
			}

			return []models.CatalogEntity{entity(4, "D", "")}, nil
		}}
		svc := NewDraftService(DraftServiceParams{Catalog: catalog, Config: DraftConfig{CatalogFloor: 5}})

		got, fallback := svc.catalogCandidates(ctx, "Jeju", []string{"nature"})

		assert.True(t, fallback)
		assert.Len(t, got, 1)
	})
}

func TestFlexibleID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want *int64
	}{
		{in: `12`, want: int64Ptr(12)},
		{in: `"34"`, want: int64Ptr(34)},
		{in: `" 5 "`, want: int64Ptr(5)},
		{in: `null`, want: nil},
		{in: `"abc"`, want: nil},
		{in: `-3`, want: nil},
		{in: `1.5`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var item draftResponseItem
			require.NoError(t, json.Unmarshal([]byte(`{"place_id":`+tt.in+`}`), &item))
			assert.Equal(t, tt.want, item.PlaceID.value)
		})
	}
}
