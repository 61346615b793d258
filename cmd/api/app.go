package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tripdesk/groundwork/internal/api"
	"github.com/tripdesk/groundwork/internal/api/handlers"
	"github.com/tripdesk/groundwork/internal/api/middleware"
	"github.com/tripdesk/groundwork/internal/config"
	"github.com/tripdesk/groundwork/internal/interests"
	"github.com/tripdesk/groundwork/internal/observability"
	"github.com/tripdesk/groundwork/internal/providers"
	"github.com/tripdesk/groundwork/internal/repository"
	"github.com/tripdesk/groundwork/internal/service"
	"github.com/tripdesk/groundwork/internal/worker"
	"github.com/tripdesk/groundwork/internal/workers"
	"github.com/tripdesk/groundwork/pkg/cache"
)

const (
	queryCacheNamespace = "query_embedding"

	readTimeout  = 15 * time.Second
	writeTimeout = 3 * time.Minute
	idleTimeout  = 60 * time.Second
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	server         *http.Server
	river          *river.Client[pgx.Tx]
	analytics      *worker.AnalyticsScheduler
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// setupObservability creates the meter and tracer providers for the configured exporters.
// Disabled exporters yield nil providers and an empty Metrics whose collectors are all nil.
func setupObservability(cfg *config.Config) (
	*sdkmetric.MeterProvider, http.Handler, *sdktrace.TracerProvider, *observability.Metrics, error,
) {
	mp, metricsHandler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	metrics := &observability.Metrics{}

	if mp == nil {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unsupported)")
	} else {
		otel.SetMeterProvider(mp)

		m, err := observability.NewMetrics(mp.Meter(observability.MeterName))
		if err != nil {
			shutdownObservability(context.Background(), nil, mp)

			return nil, nil, nil, nil, fmt.Errorf("create metrics: %w", err)
		}

		metrics = m
	}

	tp, err := observability.NewTracerProvider(cfg)
	if err != nil {
		shutdownObservability(context.Background(), nil, mp)

		return nil, nil, nil, nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if tp == nil {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unsupported)")
	} else {
		otel.SetTracerProvider(tp)
	}

	return mp, metricsHandler, tp, metrics, nil
}

// migrateRiver creates or upgrades River's job tables.
func migrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate River: %w", err)
	}

	if len(res.Versions) > 0 {
		slog.Info("River schema migrated", "versions", len(res.Versions))
	}

	return nil
}

// NewApp builds and wires all components. It does not start the HTTP server, River or the
// analytics scheduler; call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (_ *App, err error) {
	meterProvider, metricsHandler, tracerProvider, metrics, err := setupObservability(cfg)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			shutdownObservability(context.Background(), tracerProvider, meterProvider)
		}
	}()

	logger := slog.Default()

	embedder, err := providers.EmbeddingGateway(ctx, cfg, metrics.Embeddings, logger)
	if err != nil {
		return nil, err
	}

	completer, err := providers.CompletionGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	queryCache, err := cache.NewLoaderCache[string, []float32](
		queryCacheNamespace, cfg.QueryCacheSize, cfg.QueryCacheTTL, func(s string) string { return s },
	)
	if err != nil {
		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	if metrics.Cache != nil {
		if err = metrics.Cache.ObserveSize(queryCacheNamespace, queryCache.Len); err != nil {
			return nil, err
		}
	}

	corpusRepo := repository.NewCorpusRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	searchService := service.NewSearchService(service.SearchServiceParams{
		Embedder:     embedder,
		Corpus:       corpusRepo,
		QueryCache:   queryCache,
		CacheMetrics: metrics.Cache,
		Logger:       logger,
	})
	draftReranker, answerReranker := newRerankers(cfg)
	placeMatcher := service.NewPlaceMatcher(service.PlaceMatcherParams{
		Catalog:        catalogRepo,
		FuzzyThreshold: cfg.FuzzyThreshold,
		Metrics:        metrics.Pipeline,
		Logger:         logger,
	})
	draftService := service.NewDraftService(service.DraftServiceParams{
		Interests: interests.Default(),
		Search:    searchService,
		Catalog:   catalogRepo,
		Completer: completer,
		Matcher:   placeMatcher,
		Reranker:  draftReranker,
		Config: service.DraftConfig{
			TopK:                cfg.DraftTopK,
			CandidateMultiplier: cfg.DraftCandidateMultiplier,
			MinSimilarity:       cfg.DraftMinSimilarity,
			CatalogFloor:        cfg.CatalogFloor,
		},
		Metrics: metrics.Pipeline,
		Logger:  logger,
	})
	answerService := service.NewAnswerService(service.AnswerServiceParams{
		Search:    searchService,
		Completer: completer,
		Reranker:  answerReranker,
		Config: service.AnswerConfig{
			TopK:                cfg.DraftTopK,
			CandidateMultiplier: cfg.DraftCandidateMultiplier,
			MinSimilarity:       cfg.DraftMinSimilarity,
		},
		Metrics: metrics.Pipeline,
		Logger:  logger,
	})
	duplicateService := service.NewDuplicateService(service.DuplicateServiceParams{
		Documents:   corpusRepo,
		Search:      corpusRepo,
		Threshold:   cfg.DuplicateThreshold,
		Neighbors:   cfg.DuplicateNeighbors,
		Concurrency: cfg.BatchConcurrency,
		Delay:       cfg.BatchDelay,
		Metrics:     metrics.Jobs,
		Logger:      logger,
	})
	categoryService := service.NewCategoryService(service.CategoryServiceParams{
		Store:         corpusRepo,
		Completer:     completer,
		LowConfidence: cfg.CategoryLowConfidence,
		Metrics:       metrics.Jobs,
		Logger:        logger,
	})

	if err := migrateRiver(ctx, db); err != nil {
		return nil, err
	}

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewDocumentEmbeddingWorker(corpusRepo, embedder, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			service.EmbeddingsQueueName: {MaxWorkers: cfg.EmbeddingQueueMaxWorkers},
		},
		Workers:      riverWorkers,
		ErrorHandler: workers.NewErrorHandler(logger),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	backfillService := service.NewBackfillService(service.BackfillServiceParams{
		Store:         corpusRepo,
		Embedder:      embedder,
		Enqueuer:      service.NewEmbeddingEnqueuer(riverClient, service.EmbeddingsQueueName, cfg.EmbeddingJobMaxAttempts),
		RatePerSecond: cfg.EmbeddingRatePerSecond,
		Concurrency:   cfg.BatchConcurrency,
		Delay:         cfg.BatchDelay,
		Metrics:       metrics.Jobs,
		Logger:        logger,
	})

	var analytics *worker.AnalyticsScheduler
	if cfg.AnalyticsInterval > 0 {
		analytics = worker.NewAnalyticsScheduler(duplicateService, categoryService, nil, cfg.AnalyticsInterval, logger)
	} else {
		slog.Info("analytics scheduler disabled (ANALYTICS_INTERVAL unset or 0)")
	}

	router := api.NewRouter(api.RouterParams{
		Health:         handlers.NewHealthHandler(db),
		Drafts:         handlers.NewDraftsHandler(draftService),
		Answers:        handlers.NewAnswersHandler(answerService),
		Places:         handlers.NewPlacesHandler(placeMatcher),
		Analytics:      handlers.NewAnalyticsHandler(duplicateService, categoryService),
		Embeddings:     handlers.NewEmbeddingsHandler(backfillService),
		MetricsHandler: metricsHandler,
		APIMetrics:     metrics.API,
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
		Logger:         logger,
	})

	slog.Info("application wired",
		"embedding_model", embedder.Model(),
		"embedding_dimensions", embedder.Dimensions(),
		"completion_provider", cfg.CompletionProvider,
	)

	return &App{
		cfg:            cfg,
		server:         newHTTPServer(cfg, router, meterProvider, tracerProvider),
		river:          riverClient,
		analytics:      analytics,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
	}, nil
}

// newHTTPServer wraps the router as RequestID -> otelhttp -> Logging -> router so access logs
// carry the request id and the span.
// newRerankers builds the draft and FAQ answer rerankers from their configured weights.
func newRerankers(cfg *config.Config) (draft, answer *service.Reranker) {
	draft = service.NewReranker(cfg.RerankVectorWeight, cfg.RerankLexicalWeight)
	answer = service.NewReranker(cfg.AnswerRerankVectorWeight, cfg.AnswerRerankLexicalWeight)

	return draft, answer
}

func newHTTPServer(
	cfg *config.Config, router http.Handler, meterProvider *sdkmetric.MeterProvider, tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	otelOpts := []otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	handler := middleware.Logging(slog.Default())(router)
	handler = otelhttp.NewHandler(handler, "groundwork-api", otelOpts...)
	handler = middleware.RequestID(handler)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River and the analytics scheduler, then blocks until ctx is
// cancelled or a component fails. Call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if err := a.river.Start(runCtx); err != nil {
		return fmt.Errorf("river: %w", err)
	}

	if a.analytics != nil {
		go a.analytics.Start(runCtx)
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// shutdownObservability flushes and stops the tracer and meter providers. Errors are logged.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) {
	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		slog.Error("shutdown tracer provider", "error", err)
	}

	if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
		slog.Error("shutdown meter provider", "error", err)
	}
}

// Shutdown stops the server and then River, waiting for in-flight jobs. Observability is
// flushed last.
func (a *App) Shutdown(ctx context.Context) error {
	defer shutdownObservability(ctx, a.tracerProvider, a.meterProvider)

	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			slog.Error("river stop during server shutdown", "error", stopErr)
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := a.river.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}
