package api

import (
	"net/http"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
	"github.com/renjiajia-patsnap/llmdemo/internal/sqlguard"
)

const maxGenerateTables = 20

type validateRequest struct {
	SQL string `json:"sql"`
}

type translateRequest struct {
	Question string `json:"question"`
}

// generateRequest skips intent analysis: the caller names the tables.
type generateRequest struct {
	NaturalLanguage string   `json:"natural_language"`
	Intent          string   `json:"intent,omitempty"`
	Tables          []string `json:"tables"`
}

func handleValidateSQL(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Validator == nil {
		writeNotConfigured(r.Context(), w, "VALIDATOR_NOT_CONFIGURED", "sql validator")
		return
	}
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	ok, reason := deps.Validator.Validate(req.SQL)
	payload := map[string]any{"ok": ok, "reason": reason}
	if !ok {
		payload["keyword"] = strings.ToUpper(sqlguard.Keyword(req.SQL))
	}
	writeJSON(w, http.StatusOK, payload)
}

func handleTranslateSQL(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Resolver == nil {
		writeNotConfigured(r.Context(), w, "TRANSLATE_NOT_CONFIGURED", "question resolver")
		return
	}
	var req translateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	translation, err := deps.Resolver.Translate(r.Context(), req.Question)
	if err != nil {
		extra := map[string]any{}
		if translation.SQL != "" {
			extra["sql"] = translation.SQL
			extra["reason"] = translation.Validation.Reason
		}
		writeAppError(r.Context(), w, err, "", extra)
		return
	}
	writeJSON(w, http.StatusOK, translation)
}

func handleGenerateSQL(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Generator == nil || deps.Schema == nil {
		writeNotConfigured(r.Context(), w, "GENERATE_NOT_CONFIGURED", "sql generator")
		return
	}
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid generate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "natural_language is required", false, nil)
		return
	}
	if len(req.Tables) == 0 || len(req.Tables) > maxGenerateTables {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLES_REQUIRED", "between 1 and 20 tables are required", false, nil)
		return
	}

	details := make([]catalog.TableDetail, 0, len(req.Tables))
	for _, name := range req.Tables {
		detail, err := deps.Schema.TableDetail(r.Context(), name)
		if err != nil {
			writeAppError(r.Context(), w, err, "", map[string]any{"table": name})
			return
		}
		details = append(details, detail)
	}

	result, err := deps.Generator.Translate(r.Context(), nl2sql.Request{
		NaturalLanguage: req.NaturalLanguage,
		Intent:          req.Intent,
		Tables:          details,
	})
	if err != nil {
		writeAppError(r.Context(), w, err, "", nil)
		return
	}

	validation := map[string]any{"ok": true}
	if deps.Validator != nil {
		ok, reason := deps.Validator.Validate(result.SQL)
		validation = map[string]any{"ok": ok, "reason": reason}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":        result.SQL,
		"tables":     result.Tables,
		"provider":   result.Provider,
		"model":      result.Model,
		"validation": validation,
	})
}
