package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/auth"
	"github.com/renjiajia-patsnap/llmdemo/internal/cache"
	rediscache "github.com/renjiajia-patsnap/llmdemo/internal/cache/redis"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog/remote"
	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/maintenance"
	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair/sqlstore"
	duckdbengine "github.com/renjiajia-patsnap/llmdemo/internal/query/duckdb"
	"github.com/renjiajia-patsnap/llmdemo/internal/schema"
	s3store "github.com/renjiajia-patsnap/llmdemo/internal/storage/s3"
)

func newCatalogClient(cfg config.Config, logger *slog.Logger) (*remote.Client, error) {
	return remote.NewClient(remote.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		Username: cfg.Catalog.Username,
		Password: cfg.Catalog.Password,
		DBName:   cfg.Catalog.DBName,
		SourceID: cfg.Catalog.SourceID,
		UserID:   cfg.Catalog.UserID,
		Timeout:  cfg.Catalog.Timeout,
		TokenTTL: cfg.Catalog.TokenTTL,
	}, logger)
}

// newSchemaCache uses redis when a URL is configured so that every api
// replica and the worker share one warm cache.
func newSchemaCache(ctx context.Context, cfg config.Config, client *remote.Client, logger *slog.Logger) (*schema.Cache, func(), error) {
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
		tableStore, err := rediscache.New[[]catalog.TableDescriptor](rc, cfg.Cache.KeyPrefix+":tables")
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		detailStore, err := rediscache.New[catalog.TableDetail](rc, cfg.Cache.KeyPrefix+":details")
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		tables, details = tableStore, detailStore
	}
	c, err := schema.New(client, client, tables, details, schema.Config{TTL: cfg.Cache.TTL, SampleRows: cfg.Cache.SampleRows}, logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return c, closeFn, nil
}

func newCompleter(cfg config.Config) (nl2sql.Completer, error) {
	switch cfg.AI.Completer {
	case config.CompleterLangchain:
		return nl2sql.NewLangchainCompleter(nl2sql.LangchainConfig{
			Provider:    cfg.AI.LangchainProvider,
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
		})
	case config.CompleterOpenAI:
		return nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported completer %q", cfg.AI.Completer)
	}
}

func loadQuestionIndex(ctx context.Context, index *matcher.Matcher, pairs qapair.Store, logger *slog.Logger) error {
	stored, err := pairs.List(ctx, 0, 0)
	if err != nil {
		return err
	}
	loaded, err := index.Load(ctx, stored)
	if err != nil {
		return err
	}
	logger.Info("question index loaded", slog.Int("stored", len(stored)), slog.Int("indexed", loaded))
	return nil
}

// newMaintenance lets operators trigger maintenance runs through the api.
// The scheduled loop itself lives in querydb-worker.
func newMaintenance(ctx context.Context, cfg config.Config, schemaCache *schema.Cache, repo *sqlstore.Repository, logger *slog.Logger) (*maintenance.Service, error) {
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
		return nil, err
	}
	return &maintenance.Service{
		Schema:      schemaCache,
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
	}, nil
}

// authValidators accepts static API keys and, when a secret is set, JWT
// bearer tokens.
func authValidators(cfg config.Config) (auth.Chain, error) {
	var chain auth.Chain
	if strings.TrimSpace(cfg.Auth.StaticKeys) != "" {
		static, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		chain = append(chain, static)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		jwtValidator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("configure jwt validator: %w", err)
		}
		chain = append(chain, jwtValidator)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("auth is required but neither static keys nor a jwt secret is configured")
	}
	return chain, nil
}
