package api

import (
	"context"
	"net/http"

	"github.com/renjiajia-patsnap/llmdemo/internal/config"
)

func handleWarmupRun(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Maintenance == nil {
		writeNotConfigured(r.Context(), w, "MAINTENANCE_NOT_CONFIGURED", "maintenance service")
		return
	}
	runMaintenance(w, r, "WARMUP_FAILED", "schema warmup failed", func(ctx context.Context) (any, error) {
		return deps.Maintenance.RunWarmupOnce(ctx)
	})
}

func handleExportRun(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Maintenance == nil {
		writeNotConfigured(r.Context(), w, "MAINTENANCE_NOT_CONFIGURED", "maintenance service")
		return
	}
	runMaintenance(w, r, "EXPORT_FAILED", "qa export failed", func(ctx context.Context) (any, error) {
		return deps.Maintenance.RunExportOnce(ctx)
	})
}

func handleRetentionRun(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Maintenance == nil {
		writeNotConfigured(r.Context(), w, "MAINTENANCE_NOT_CONFIGURED", "maintenance service")
		return
	}
	runMaintenance(w, r, "RETENTION_FAILED", "retention run failed", func(ctx context.Context) (any, error) {
		return deps.Maintenance.RunRetentionOnce(ctx)
	})
}

func handleIntegrityRun(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Maintenance == nil {
		writeNotConfigured(r.Context(), w, "MAINTENANCE_NOT_CONFIGURED", "maintenance service")
		return
	}
	runMaintenance(w, r, "INTEGRITY_CHECK_FAILED", "integrity check failed", func(ctx context.Context) (any, error) {
		return deps.Maintenance.RunIntegrityCheckOnce(ctx)
	})
}

func runMaintenance(w http.ResponseWriter, r *http.Request, code, message string, run func(context.Context) (any, error)) {
	summary, err := run(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, code, message, true, map[string]any{
			"details": err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"summary": summary,
	})
}
