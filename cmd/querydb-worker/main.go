package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renjiajia-patsnap/llmdemo/internal/cache"
	rediscache "github.com/renjiajia-patsnap/llmdemo/internal/cache/redis"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog/remote"
	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/maintenance"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair/sqlstore"
	duckdbengine "github.com/renjiajia-patsnap/llmdemo/internal/query/duckdb"
	"github.com/renjiajia-patsnap/llmdemo/internal/schema"
	s3store "github.com/renjiajia-patsnap/llmdemo/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querydb-worker")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(ctx, sqlstore.DBConfig{
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
	defer func() { _ = db.Close() }()
	repo := sqlstore.NewRepository(db)

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &maintenance.Service{
		Pairs:       repo,
		Exports:     repo,
		ObjectStore: store,
		Counter:     duckdbengine.NewEngine(store),
		Config: maintenance.Config{
			WarmupInterval:    cfg.Maintenance.WarmupInterval,
			ExportInterval:    cfg.Maintenance.ExportInterval,
			RetentionInterval: cfg.Maintenance.RetentionInterval,
			IntegrityInterval: cfg.Maintenance.IntegrityInterval,
			WarmupConcurrency: cfg.Pipeline.DetailConcurrency,
			KeepExports:       cfg.Maintenance.KeepExports,
			IntegrityLimit:    cfg.Maintenance.IntegrityLimit,
			CreatedBy:         cfg.Maintenance.CreatedBy,
		},
		Logger: logger,
	}

	// Warmup needs the catalog; without a source id the worker still
	// exports and checks integrity.
	if strings.TrimSpace(cfg.Catalog.SourceID) != "" {
		schemaCache, closeCache, err := newSchemaCache(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to initialize schema cache", slog.Any("error", err))
			os.Exit(1)
		}
		defer closeCache()
		svc.Schema = schemaCache
	} else {
		logger.Warn("catalog source id not set; schema warmup disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"` + cfg.Service.Name + `"}`))
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("maintenance worker started", slog.String("metrics_addr", cfg.HTTP.Address))
	if err := svc.Run(ctx); err != nil {
		logger.Error("maintenance worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("maintenance worker stopped")
}

func newSchemaCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (*schema.Cache, func(), error) {
	client, err := remote.NewClient(remote.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		Username: cfg.Catalog.Username,
		Password: cfg.Catalog.Password,
		DBName:   cfg.Catalog.DBName,
		SourceID: cfg.Catalog.SourceID,
		UserID:   cfg.Catalog.UserID,
		Timeout:  cfg.Catalog.Timeout,
		TokenTTL: cfg.Catalog.TokenTTL,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	var (
		tables  cache.Store[[]catalog.TableDescriptor]
		details cache.Store[catalog.TableDetail]
		closeFn = func() {}
	)
	if strings.TrimSpace(cfg.Cache.RedisURL) != "" {
		rc, err := rediscache.Dial(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = rc.Close() }
		if tables, err = rediscache.New[[]catalog.TableDescriptor](rc, cfg.Cache.KeyPrefix+":tables"); err != nil {
			closeFn()
			return nil, nil, err
		}
		if details, err = rediscache.New[catalog.TableDetail](rc, cfg.Cache.KeyPrefix+":details"); err != nil {
			closeFn()
			return nil, nil, err
		}
	} else {
		logger.Warn("no redis url configured; warmup fills a process-local cache the api cannot see")
	}
	c, err := schema.New(client, client, tables, details, schema.Config{TTL: cfg.Cache.TTL, SampleRows: cfg.Cache.SampleRows}, logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return c, closeFn, nil
}
