// analytics runs duplicate detection and category classification over the corpora and prints
// the results as JSON. Category assignments are only stored with -apply.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

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
)

type corpusReport struct {
	SourceType     models.SourceType            `json:"source_type"`
	Duplicates     []models.DuplicateGroup      `json:"duplicates,omitempty"`
	Classification *models.ClassificationResult `json:"classification,omitempty"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sources    string
		duplicates bool
		classify   bool
		apply      bool
	)

	flag.StringVar(&sources, "source", "all", "Comma-separated source types, or all")
	flag.BoolVar(&duplicates, "duplicates", true, "Report duplicate clusters")
	flag.BoolVar(&classify, "classify", true, "Propose categories for unlabeled documents")
	flag.BoolVar(&apply, "apply", false, "Store the proposed categories")
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

	completer, err := providers.CompletionGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create completion provider", "error", err)

		return exitFailure
	}

	corpus := repository.NewCorpusRepository(db)
	duplicateService := service.NewDuplicateService(service.DuplicateServiceParams{
		Documents:   corpus,
		Search:      corpus,
		Threshold:   cfg.DuplicateThreshold,
		Neighbors:   cfg.DuplicateNeighbors,
		Concurrency: cfg.BatchConcurrency,
		Delay:       cfg.BatchDelay,
		Logger:      logger,
	})
	categoryService := service.NewCategoryService(service.CategoryServiceParams{
		Store:         corpus,
		Completer:     completer,
		LowConfidence: cfg.CategoryLowConfidence,
		Logger:        logger,
	})

	reports := make([]corpusReport, 0, len(sourceTypes))

	for _, st := range sourceTypes {
		report := corpusReport{SourceType: st}

		if duplicates {
			groups, err := duplicateService.FindDuplicates(ctx, st)
			if err != nil {
				logger.Error("Duplicate detection failed", "source_type", st, "error", err)

				return exitFailure
			}

			report.Duplicates = groups
		}

		if classify {
			result, err := categoryService.Classify(ctx, st, apply)
			if err != nil {
				logger.Error("Classification failed", "source_type", st, "error", err)

				return exitFailure
			}

			report.Classification = result
		}

		reports = append(reports, report)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(reports); err != nil {
		fmt.Fprintln(os.Stderr, "write result:", err)

		return exitFailure
	}

	return exitSuccess
}
