// backfill-embeddings embeds corpus documents whose embedding is missing or was produced from
// older text or another model. By default it embeds inline and prints per-corpus stats as JSON;
// with -mode=enqueue it inserts one River job per document for the API workers to process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/tripdesk/groundwork/internal/config"
	"github.com/tripdesk/groundwork/internal/models"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/internal/providers"
	"github.com/tripdesk/groundwork/internal/repository"
	"github.com/tripdesk/groundwork/internal/service"
	"github.com/tripdesk/groundwork/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1

	modeInline  = "inline"
	modeEnqueue = "enqueue"
)

var errUnknownMode = errors.New("unknown mode")

type enqueueResult struct {
	SourceType models.SourceType `json:"source_type"`
	Enqueued   int               `json:"enqueued"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sources  string
		mode     string
		progress bool
	)

	flag.StringVar(&sources, "source", "all", "Comma-separated source types, or all")
	flag.StringVar(&mode, "mode", modeInline, "inline embeds now; enqueue inserts River jobs")
	flag.BoolVar(&progress, "progress", progressEnabledByDefault(), "Show a progress bar on stderr")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	sourceTypes, err := models.ParseSourceTypes(sources)
	if err != nil {
		logger.Error("Invalid -source", "error", err)

		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithVectorTypes())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	embedder, err := providers.EmbeddingGateway(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("Failed to create embedding provider", "error", err)

		return exitFailure
	}

	params := service.BackfillServiceParams{
		Store:         repository.NewCorpusRepository(db),
		Embedder:      embedder,
		RatePerSecond: cfg.EmbeddingRatePerSecond,
		Concurrency:   cfg.BatchConcurrency,
		Delay:         cfg.BatchDelay,
		Logger:        logger,
	}

	var out any

	switch mode {
	case modeInline:
		out, err = runInline(ctx, params, sourceTypes, progress)
	case modeEnqueue:
		riverClient, rerr := river.NewClient(riverpgxv5.New(db), &river.Config{Logger: logger})
		if rerr != nil {
			logger.Error("Failed to create River client", "error", rerr)

			return exitFailure
		}

		params.Enqueuer = service.NewEmbeddingEnqueuer(riverClient, service.EmbeddingsQueueName, cfg.EmbeddingJobMaxAttempts)
		out, err = runEnqueue(ctx, service.NewBackfillService(params), sourceTypes)
	default:
		err = fmt.Errorf("%w %q (want %s or %s)", errUnknownMode, mode, modeInline, modeEnqueue)
	}

	if err != nil {
		logger.Error("Backfill failed", "error", err)

		return exitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		logger.Error("Failed to write result", "error", err)

		return exitFailure
	}

	return exitSuccess
}

func runInline(
	ctx context.Context, params service.BackfillServiceParams, sourceTypes []models.SourceType, progress bool,
) ([]*models.BackfillStats, error) {
	out := make([]*models.BackfillStats, 0, len(sourceTypes))

	for _, st := range sourceTypes {
		p := params
		if progress {
			p.Progress = &barProgress{description: "embedding " + string(st)}
		}

		stats, err := service.NewBackfillService(p).Run(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st, err)
		}

		out = append(out, stats)
	}

	return out, nil
}

func runEnqueue(ctx context.Context, svc *service.BackfillService, sourceTypes []models.SourceType) ([]enqueueResult, error) {
	out := make([]enqueueResult, 0, len(sourceTypes))

	for _, st := range sourceTypes {
		n, err := svc.Enqueue(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st, err)
		}

		out = append(out, enqueueResult{SourceType: st, Enqueued: n})
	}

	return out, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: backfill-embeddings [-source %s] [-mode inline|enqueue]\n",
			strings.Join(sourceTypeNames(), ","))
		flag.PrintDefaults()
	}
}

func sourceTypeNames() []string {
	all := models.AllSourceTypes()
	names := make([]string, len(all))

	for i, st := range all {
		names[i] = string(st)
	}

	return names
}
