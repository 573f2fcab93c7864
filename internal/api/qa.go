package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

const (
	defaultQALimit = 50
	maxQALimit     = 500
)

type qaPutRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
	Answer   string `json:"answer"`
}

func handleListQA(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pairs == nil {
		writeNotConfigured(r.Context(), w, "QA_STORE_NOT_CONFIGURED", "qa store")
		return
	}
	limit, err := intParam(r, "limit", defaultQALimit)
	if err != nil || limit <= 0 || limit > maxQALimit {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, nil)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer", false, nil)
		return
	}

	pairs, err := deps.Pairs.List(r.Context(), limit, offset)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "QA_STORE_ERROR", "failed to list qa pairs", true, map[string]any{"details": err.Error()})
		return
	}
	total, err := deps.Pairs.Count(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "QA_STORE_ERROR", "failed to count qa pairs", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pairs":  pairs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleLookupQA answers from the exact key first and falls back to the
// similarity index.
func handleLookupQA(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pairs == nil {
		writeNotConfigured(r.Context(), w, "QA_STORE_NOT_CONFIGURED", "qa store")
		return
	}
	question := qapair.Normalize(r.URL.Query().Get("question"))
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	pair, err := deps.Pairs.Get(r.Context(), question)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"match": "exact", "similarity": 1.0, "pair": pair})
		return
	case !errors.Is(err, qapair.ErrNotFound):
		writeError(r.Context(), w, http.StatusInternalServerError, "QA_STORE_ERROR", "failed to read qa pair", true, map[string]any{"details": err.Error()})
		return
	}

	if deps.Index != nil {
		threshold := cfg.Matcher.Threshold
		if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed <= 0 || parsed >= 1 {
				writeError(r.Context(), w, http.StatusBadRequest, "INVALID_THRESHOLD", "threshold must be between 0 and 1", false, nil)
				return
			}
			threshold = parsed
		}
		match, err := deps.Index.FindSimilar(r.Context(), question, threshold)
		if err != nil {
			writeAppError(r.Context(), w, err, "", nil)
			return
		}
		if match.Found() {
			writeJSON(w, http.StatusOK, map[string]any{
				"match":      "similar",
				"similarity": match.Similarity,
				"pair": qapair.Pair{
					Question: match.MatchedQuestion,
					SQL:      match.SQL,
					Answer:   match.Answer,
				},
			})
			return
		}
	}
	writeError(r.Context(), w, http.StatusNotFound, "QA_NOT_FOUND", "no stored answer for question", false, map[string]any{"question": question})
}

func handlePutQA(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pairs == nil {
		writeNotConfigured(r.Context(), w, "QA_STORE_NOT_CONFIGURED", "qa store")
		return
	}
	var req qaPutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid qa request body", false, map[string]any{"details": err.Error()})
		return
	}
	pair := qapair.Pair{Question: qapair.Normalize(req.Question), SQL: strings.TrimSpace(req.SQL), Answer: strings.TrimSpace(req.Answer)}
	if err := pair.Validate(); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QA_PAIR", err.Error(), false, nil)
		return
	}
	if deps.Validator != nil {
		if ok, reason := deps.Validator.Validate(pair.SQL); !ok {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "SQL_REJECTED", reason, false, nil)
			return
		}
	}

	stored, err := deps.Pairs.Upsert(r.Context(), pair)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "QA_STORE_ERROR", "failed to store qa pair", true, map[string]any{"details": err.Error()})
		return
	}

	indexed := false
	if deps.Index != nil {
		if err := deps.Index.Add(r.Context(), stored); err != nil {
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "qa pair stored but not indexed", slog.String("question", stored.Question), slog.Any("error", err))
			}
		} else {
			indexed = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair": stored, "indexed": indexed})
}

func handleDeleteQA(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pairs == nil {
		writeNotConfigured(r.Context(), w, "QA_STORE_NOT_CONFIGURED", "qa store")
		return
	}
	question := qapair.Normalize(r.URL.Query().Get("question"))
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	if err := deps.Pairs.Delete(r.Context(), question); err != nil {
		if errors.Is(err, qapair.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "QA_NOT_FOUND", "qa pair not found", false, map[string]any{"question": question})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "QA_STORE_ERROR", "failed to delete qa pair", true, map[string]any{"details": err.Error()})
		return
	}
	if deps.Index != nil {
		deps.Index.Forget(question)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "question": question})
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
