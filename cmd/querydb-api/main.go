package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/api"
	"github.com/renjiajia-patsnap/llmdemo/internal/auth"
	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/pipeline"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair/sqlstore"
	"github.com/renjiajia-patsnap/llmdemo/internal/sqlguard"
)

func main() {
	cfg, err := config.LoadFromEnv("querydb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeDB, err := sqlstore.Open(ctx, sqlstore.DBConfig{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open qa store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = storeDB.Close() }()
	pairs := sqlstore.NewRepository(storeDB)

	catalogClient, err := newCatalogClient(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize catalog client", slog.Any("error", err))
		os.Exit(1)
	}
	schemaCache, closeCache, err := newSchemaCache(ctx, cfg, catalogClient, logger)
	if err != nil {
		logger.Error("failed to initialize schema cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCache()

	completer, err := newCompleter(cfg)
	if err != nil {
		logger.Error("failed to initialize completer", slog.Any("error", err))
		os.Exit(1)
	}
	analyzer, err := nl2sql.NewIntentAnalyzer(completer)
	if err != nil {
		logger.Error("failed to initialize intent analyzer", slog.Any("error", err))
		os.Exit(1)
	}
	generator, err := nl2sql.NewSQLGenerator(completer)
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}
	summarizer, err := nl2sql.NewSummarizer(completer)
	if err != nil {
		logger.Error("failed to initialize summarizer", slog.Any("error", err))
		os.Exit(1)
	}

	embedder, err := matcher.NewEmbedder(matcher.EmbedderConfig{
		Provider: cfg.AI.EmbedProvider,
		BaseURL:  cfg.AI.EmbedBaseURL,
		APIKey:   cfg.AI.APIKey,
		Model:    cfg.AI.EmbedModel,
	})
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}
	questionIndex, err := matcher.New(embedder, matcher.NewFlatIndex(), logger)
	if err != nil {
		logger.Error("failed to initialize matcher", slog.Any("error", err))
		os.Exit(1)
	}
	if err := loadQuestionIndex(ctx, questionIndex, pairs, logger); err != nil {
		logger.Error("failed to load stored questions", slog.Any("error", err))
		os.Exit(1)
	}

	validator := sqlguard.New()
	orchestrator, err := pipeline.New(pipeline.Dependencies{
		Matcher:    questionIndex,
		Schema:     schemaCache,
		Analyzer:   analyzer,
		Generator:  generator,
		Validator:  validator,
		Engine:     catalogClient,
		Summarizer: summarizer,
		Store:      pairs,
	}, pipeline.Config{
		MatchThreshold:    cfg.Matcher.Threshold,
		RowLimit:          cfg.Pipeline.RowLimit,
		DetailConcurrency: cfg.Pipeline.DetailConcurrency,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:    logger,
		Resolver:  orchestrator,
		Schema:    schemaCache,
		Pairs:     pairs,
		Index:     questionIndex,
		Validator: validator,
		Generator: generator,
		Readiness: api.CombineReadinessChecks(
			pairs.HealthCheck,
			api.CheckCatalogConfig(cfg),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if maintenanceService, err := newMaintenance(ctx, cfg, schemaCache, pairs, logger); err != nil {
		logger.Warn("object store unavailable; maintenance endpoints disabled", slog.Any("error", err))
	} else {
		deps.Maintenance = maintenanceService
	}
	if cfg.Auth.Required {
		validators, err := authValidators(cfg)
		if err != nil {
			logger.Error("failed to configure auth", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validators)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.Int("indexed_questions", questionIndex.Len()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
