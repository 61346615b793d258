// import-corpus loads corpus documents from a CSV file into corpus_documents. Existing documents
// with the same id are replaced; a changed text makes the stored embedding stale. With -enqueue,
// an embedding job is inserted for every imported document. A JSON summary is printed to stdout.
//
// Usage:
//
//	import-corpus -file knowledge.csv -source knowledge_entry -enqueue
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/tripdesk/groundwork/internal/config"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/internal/repository"
	"github.com/tripdesk/groundwork/internal/service"
	"github.com/tripdesk/groundwork/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1

	defaultBatchSize = 500
)

var errNoFile = errors.New("-file is required")

type summary struct {
	Imported int          `json:"imported"`
	Enqueued int          `json:"enqueued"`
	DryRun   bool         `json:"dry_run,omitempty"`
	Skipped  []skippedRow `json:"skipped"`
}

// documentWriter is the subset of the corpus repository used by the import.
type documentWriter interface {
	UpsertDocuments(ctx context.Context, docs []models.DocumentInput) error
}

// embeddingEnqueuer inserts one embedding job per document.
type embeddingEnqueuer interface {
	Enqueue(ctx context.Context, documentID string) (bool, error)
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		file      string
		source    string
		batchSize int
		enqueue   bool
		dryRun    bool
	)

	flag.StringVar(&file, "file", "", "CSV file to import, or - for stdin")
	flag.StringVar(&source, "source", "", "Source type for rows without a source_type column value")
	flag.IntVar(&batchSize, "batch", defaultBatchSize, "Documents per database batch")
	flag.BoolVar(&enqueue, "enqueue", false, "Insert an embedding job for every imported document")
	flag.BoolVar(&dryRun, "dry-run", false, "Parse and validate only")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	defaultSource := models.SourceType(strings.ToLower(strings.TrimSpace(source)))
	if defaultSource != "" && !defaultSource.IsValid() {
		logger.Error("Invalid -source", "error", fmt.Errorf("%w: %q", models.ErrUnknownSourceType, source))

		return exitFailure
	}

	in, closeInput, err := openInput(file)
	if err != nil {
		logger.Error("Failed to open input", "error", err)
		flag.Usage()

		return exitFailure
	}
	defer closeInput()

	docs, skipped, err := readDocuments(in, defaultSource)
	if err != nil {
		logger.Error("Failed to read CSV", "file", file, "error", err)

		return exitFailure
	}

	for _, s := range skipped {
		logger.Warn("Skipping row", "line", s.Line, "id", s.ID, "reason", s.Reason)
	}

	out := summary{DryRun: dryRun, Skipped: skipped}
	if out.Skipped == nil {
		out.Skipped = []skippedRow{}
	}

	if !dryRun {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out.Imported, out.Enqueued, err = store(ctx, cfg, logger, docs, batchSize, enqueue)
		if err != nil {
			logger.Error("Import failed", "imported", out.Imported, "error", err)

			return exitFailure
		}
	} else {
		out.Imported = len(docs)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		logger.Error("Failed to write result", "error", err)

		return exitFailure
	}

	return exitSuccess
}

func openInput(file string) (io.Reader, func(), error) {
	switch file {
	case "":
		return nil, nil, errNoFile
	case "-":
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(file) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", file, err)
	}

	return f, func() { _ = f.Close() }, nil
}

func store(
	ctx context.Context, cfg *config.Config, logger *slog.Logger,
	docs []models.DocumentInput, batchSize int, enqueue bool,
) (int, int, error) {
	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithVectorTypes())
	if err != nil {
		return 0, 0, fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	var enqueuer embeddingEnqueuer

	if enqueue {
		riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{Logger: logger})
		if err != nil {
			return 0, 0, fmt.Errorf("create river client: %w", err)
		}

		enqueuer = service.NewEmbeddingEnqueuer(riverClient, service.EmbeddingsQueueName, cfg.EmbeddingJobMaxAttempts)
	}

	return importDocuments(ctx, repository.NewCorpusRepository(db), enqueuer, docs, batchSize, logger)
}

// importDocuments writes docs in batches and, when enqueuer is non-nil, enqueues an embedding
// job per stored document. It returns how many documents were stored and how many jobs were
// inserted; jobs already pending for a document are not counted.
func importDocuments(
	ctx context.Context, writer documentWriter, enqueuer embeddingEnqueuer,
	docs []models.DocumentInput, batchSize int, logger *slog.Logger,
) (int, int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	imported, enqueued := 0, 0

	for batch := range slices.Chunk(docs, batchSize) {
		if err := writer.UpsertDocuments(ctx, batch); err != nil {
			return imported, enqueued, err //nolint:wrapcheck // repository error names the document
		}

		imported += len(batch)

		logger.Info("Imported batch", "documents", len(batch), "total", imported)

		if enqueuer == nil {
			continue
		}

		for _, d := range batch {
			inserted, err := enqueuer.Enqueue(ctx, d.ID)
			if err != nil {
				return imported, enqueued, fmt.Errorf("enqueue embedding for %s: %w", d.ID, err)
			}

			if inserted {
				enqueued++
			}
		}
	}

	return imported, enqueued, nil
}
