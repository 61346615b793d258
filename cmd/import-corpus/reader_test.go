package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/models"
)

func TestReadDocuments(t *testing.T) {
	t.Run("full columns", func(t *testing.T) {
		in := "id,source_type,text,category,metadata\n" +
			"k1,knowledge_entry,Visa rules,Visa,\"{\"\"lang\"\":\"\"en\"\"}\"\n" +
			"t1,TOUR,Palace walk,,\n"

		docs, skipped, err := readDocuments(strings.NewReader(in), "")
		require.NoError(t, err)
		assert.Empty(t, skipped)
		require.Len(t, docs, 2)

		assert.Equal(t, "k1", docs[0].ID)
		assert.Equal(t, models.SourceKnowledgeEntry, docs[0].SourceType)
		require.NotNil(t, docs[0].Category)
		assert.Equal(t, "visa", *docs[0].Category)
		assert.Equal(t, map[string]any{"lang": "en"}, docs[0].Metadata)

		assert.Equal(t, models.SourceTour, docs[1].SourceType)
		assert.Nil(t, docs[1].Category)
		assert.Nil(t, docs[1].Metadata)
	})

	t.Run("default source type", func(t *testing.T) {
		docs, _, err := readDocuments(strings.NewReader("ID,Text\nc1,hello\n"), models.SourceCorrespondence)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, models.SourceCorrespondence, docs[0].SourceType)
	})

	t.Run("row source type overrides default", func(t *testing.T) {
		docs, _, err := readDocuments(strings.NewReader("id,text,source_type\nc1,hello,tour\nc2,bye,\n"), models.SourceCorrespondence)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, models.SourceTour, docs[0].SourceType)
		assert.Equal(t, models.SourceCorrespondence, docs[1].SourceType)
	})

	t.Run("invalid rows are skipped with line numbers", func(t *testing.T) {
		in := "id,source_type,text,metadata\n" +
			"a,tour,ok,\n" +
			",tour,no id,\n" +
			"b,tour,,\n" +
			"c,planet,bad type,\n" +
			"d,tour,bad meta,[1]\n"

		docs, skipped, err := readDocuments(strings.NewReader(in), "")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].ID)

		require.Len(t, skipped, 4)
		assert.Equal(t, skippedRow{Line: 3, Reason: "empty id"}, skipped[0])
		assert.Equal(t, skippedRow{Line: 4, ID: "b", Reason: "empty text"}, skipped[1])
		assert.Equal(t, 5, skipped[2].Line)
		assert.Contains(t, skipped[2].Reason, "unknown source type")
		assert.Equal(t, skippedRow{Line: 6, ID: "d", Reason: "metadata is not a JSON object"}, skipped[3])
	})

	t.Run("later duplicate wins", func(t *testing.T) {
		docs, _, err := readDocuments(strings.NewReader("id,text\nx,first\ny,other\nx,second\n"), models.SourceTour)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "second", docs[0].Text)
		assert.Equal(t, "y", docs[1].ID)
	})

	t.Run("header errors", func(t *testing.T) {
		_, _, err := readDocuments(strings.NewReader("id,source_type\n"), "")
		require.ErrorIs(t, err, errMissingColumn)

		_, _, err = readDocuments(strings.NewReader("id,text\n"), "")
		require.ErrorIs(t, err, errNoSourceType)

		_, _, err = readDocuments(strings.NewReader(""), "")
		require.Error(t, err)
	})
}
