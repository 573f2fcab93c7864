package api

import (
	"net/http"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/config"
)

func handleListTables(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeNotConfigured(r.Context(), w, "SCHEMA_NOT_CONFIGURED", "schema cache")
		return
	}
	tables, err := deps.Schema.ListTables(r.Context())
	if err != nil {
		writeAppError(r.Context(), w, err, "", nil)
		return
	}

	prefix := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("prefix")))
	items := make([]map[string]any, 0, len(tables))
	for _, table := range tables {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(table.Name), prefix) {
			continue
		}
		items = append(items, map[string]any{
			"table_name":  table.Name,
			"description": table.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tables": items,
		"count":  len(items),
	})
}

func handleGetTable(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeNotConfigured(r.Context(), w, "SCHEMA_NOT_CONFIGURED", "schema cache")
		return
	}
	name := strings.TrimSpace(r.PathValue("table"))
	detail, err := deps.Schema.TableDetail(r.Context(), name)
	if err != nil {
		writeAppError(r.Context(), w, err, "", map[string]any{"table": name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_name":  detail.Name,
		"ddl":         detail.DDL,
		"sample_rows": detail.SampleRows,
	})
}

func handleSchemaRefresh(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeNotConfigured(r.Context(), w, "SCHEMA_NOT_CONFIGURED", "schema cache")
		return
	}
	tables, err := deps.Schema.Refresh(r.Context())
	if err != nil {
		writeAppError(r.Context(), w, err, "", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "refreshed",
		"count":  len(tables),
	})
}
