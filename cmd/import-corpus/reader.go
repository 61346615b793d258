package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tripdesk/groundwork/internal/models"
)

var (
	errMissingColumn = errors.New("missing required column")
	errNoSourceType  = errors.New("no source_type column and no -source default")
)

// skippedRow is a CSV row that could not be imported.
type skippedRow struct {
	Line   int    `json:"line"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// readDocuments parses a CSV with a header row. id and text are required columns; source_type,
// category and metadata (a JSON object) are optional. Rows without a source_type take
// defaultSource. Invalid rows are reported and skipped; a later row with the same id wins.
func readDocuments(r io.Reader, defaultSource models.SourceType) ([]models.DocumentInput, []skippedRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}

	for _, required := range []string{"id", "text"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", errMissingColumn, required)
		}
	}

	if _, ok := cols["source_type"]; !ok && !defaultSource.IsValid() {
		return nil, nil, errNoSourceType
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}

		return strings.TrimSpace(record[i])
	}

	var (
		docs    []models.DocumentInput
		skipped []skippedRow
		index   = make(map[string]int)
	)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped = append(skipped, skippedRow{Line: parseErr.StartLine, Reason: parseErr.Err.Error()})

				continue
			}

			return nil, nil, fmt.Errorf("read csv: %w", err)
		}

		line, _ := reader.FieldPos(0)

		doc, reason := parseRecord(record, field, defaultSource)
		if reason != "" {
			skipped = append(skipped, skippedRow{Line: line, ID: doc.ID, Reason: reason})

			continue
		}

		if i, ok := index[doc.ID]; ok {
			docs[i] = doc

			continue
		}

		index[doc.ID] = len(docs)
		docs = append(docs, doc)
	}

	return docs, skipped, nil
}

func parseRecord(
	record []string, field func([]string, string) string, defaultSource models.SourceType,
) (models.DocumentInput, string) {
	doc := models.DocumentInput{
		ID:         field(record, "id"),
		SourceType: models.SourceType(strings.ToLower(field(record, "source_type"))),
		Text:       field(record, "text"),
	}

	if doc.SourceType == "" {
		doc.SourceType = defaultSource
	}

	switch {
	case doc.ID == "":
		return doc, "empty id"
	case doc.Text == "":
		return doc, "empty text"
	case strings.ContainsRune(doc.Text, 0):
		return doc, "text contains NULL bytes"
	case !doc.SourceType.IsValid():
		return doc, fmt.Sprintf("unknown source type %q", doc.SourceType)
	}

	if c := strings.ToLower(field(record, "category")); c != "" {
		doc.Category = &c
	}

	if raw := field(record, "metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Metadata); err != nil {
			return doc, "metadata is not a JSON object"
		}
	}

	return doc, ""
}
