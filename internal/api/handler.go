package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renjiajia-patsnap/llmdemo/internal/auth"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/maintenance"
	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/pipeline"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

type ReadinessCheck func(ctx context.Context) error

type Resolver interface {
	Resolve(ctx context.Context, question string) (*pipeline.ResolutionContext, error)
	Translate(ctx context.Context, question string) (pipeline.Translation, error)
}

type SchemaCatalog interface {
	ListTables(ctx context.Context) ([]catalog.TableDescriptor, error)
	TableDetail(ctx context.Context, name string) (catalog.TableDetail, error)
	Refresh(ctx context.Context) ([]catalog.TableDescriptor, error)
}

// QuestionIndex is the similarity index kept in step with the QA store.
type QuestionIndex interface {
	FindSimilar(ctx context.Context, question string, threshold float64) (matcher.MatchResult, error)
	Add(ctx context.Context, pair qapair.Pair) error
	Forget(question string)
}

type SQLValidator interface {
	Validate(sql string) (bool, string)
}

type MaintenanceRunner interface {
	RunWarmupOnce(ctx context.Context) (maintenance.WarmupSummary, error)
	RunExportOnce(ctx context.Context) (maintenance.ExportSummary, error)
	RunRetentionOnce(ctx context.Context) (maintenance.RetentionSummary, error)
	RunIntegrityCheckOnce(ctx context.Context) (maintenance.IntegritySummary, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Resolver          Resolver
	Schema            SchemaCatalog
	Pairs             qapair.Store
	Index             QuestionIndex
	Validator         SQLValidator
	Generator         nl2sql.Translator
	Maintenance       MaintenanceRunner
}

type route struct {
	pattern string
	role    string
	handle  func(Dependencies, config.Config, http.ResponseWriter, *http.Request)
}

func routes() []route {
	return []route{
		{"POST /v1/ask", auth.RoleAsker, handleAsk},
		{"POST /v1/sql/validate", auth.RoleAsker, handleValidateSQL},
		{"POST /v1/sql/translate", auth.RoleAsker, handleTranslateSQL},
		{"POST /v1/sql/generate", auth.RoleAsker, handleGenerateSQL},
		{"GET /v1/tables", auth.RoleAsker, handleListTables},
		{"GET /v1/tables/{table}", auth.RoleAsker, handleGetTable},
		{"GET /v1/qa/lookup", auth.RoleAsker, handleLookupQA},
		{"GET /v1/qa", auth.RoleCurator, handleListQA},
		{"PUT /v1/qa", auth.RoleCurator, handlePutQA},
		{"DELETE /v1/qa", auth.RoleCurator, handleDeleteQA},
		{"POST /v1/schema/refresh", auth.RoleOperator, handleSchemaRefresh},
		{"POST /v1/warmup/run", auth.RoleOperator, handleWarmupRun},
		{"POST /v1/export/run", auth.RoleOperator, handleExportRun},
		{"POST /v1/retention/run", auth.RoleOperator, handleRetentionRun},
		{"POST /v1/integrity/run", auth.RoleOperator, handleIntegrityRun},
	}
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, rt := range routes() {
		handle := rt.handle
		protected.Handle(rt.pattern, auth.RequireRole(rt.role, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(deps, cfg, w, r)
		})))
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, rt := range routes() {
		mux.Handle(rt.pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.BaseURL == "" {
			return errors.New("catalog base url is not configured")
		}
		if cfg.Catalog.SourceID == "" {
			return errors.New("catalog source id is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

// CheckPing adapts anything with a PingContext method, such as *sql.DB.
func CheckPing(pinger interface{ PingContext(context.Context) error }) ReadinessCheck {
	if pinger == nil {
		return nil
	}
	return pinger.PingContext
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
