package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"faultgen/internal/adapter/repo"
	"faultgen/internal/batchapi"
	"faultgen/internal/embedding"
	"faultgen/internal/http/handlers"
	httpapi "faultgen/internal/http/httpapi"
	"faultgen/internal/infra"
	"faultgen/internal/infra/credentials"
	"faultgen/internal/pipeline"
	"faultgen/internal/progress"
	"faultgen/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	credStore := credentials.NewStore(runner)

	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		keyFromStore, err := credStore.OpenAIAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load openai api key from store")
		} else {
			apiKey = keyFromStore
		}
	}
	if apiKey == "" {
		logger.Warn().Msg("no openai api key configured, batch submissions will fail")
	}

	batchClient, err := batchapi.NewClient(batchapi.Options{
		APIKey:  apiKey,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure batch client")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	generations := repo.NewGenerationRepository(dbpool)
	faults := repo.NewFaultRepository(dbpool)
	embeddings := repo.NewEmbeddingRepository(dbpool)
	tracker := repo.NewJobRepository(dbpool)

	resolver := pipeline.NewResolver(generations, faults, logger)
	builder := pipeline.NewStageBuilder(generations, cfg.OpenAIModel, logger)
	importer := pipeline.NewImporter(faults, resolver, logger)
	orchestrator := pipeline.NewOrchestrator(batchClient, tracker, builder, importer, fileStore, logger, pipeline.Config{
		Model:            cfg.OpenAIModel,
		MaxActiveBatches: cfg.BatchMaxActive,
		MaxAttempts:      cfg.BatchMaxAttempts,
		BaseDelay:        cfg.BatchBaseDelay,
		MaxDelay:         cfg.BatchMaxDelay,
	})

	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIOptions{
		APIKey:  apiKey,
		Model:   cfg.OpenAIEmbeddingModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure embedding provider")
	}
	engine := embedding.NewEngine(faults, embeddings, provider, logger, embedding.Config{})
	pages := embedding.NewPageProcessor(engine, nil)
	backfill := progress.NewController(pages, logger)

	app := &handlers.App{
		SQL:          runner,
		Logger:       logger,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Importer:     importer,
		Batches:      batchClient,
		Engine:       engine,
		Pages:        pages,
		Backfill:     backfill,
		Credentials:  credStore,
		Store:        fileStore,
	}

	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	backfill.Cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
