package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/pipeline"
)

type askRequest struct {
	Question string `json:"question"`
}

type stageView struct {
	Stage      string  `json:"stage"`
	Outcome    string  `json:"outcome"`
	DurationMS float64 `json:"duration_ms"`
}

func handleAsk(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Resolver == nil {
		writeNotConfigured(r.Context(), w, "ASK_NOT_CONFIGURED", "question resolver")
		return
	}

	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	ctx := r.Context()
	if cfg.Pipeline.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.AskTimeout)
		defer cancel()
	}

	rc, err := deps.Resolver.Resolve(ctx, req.Question)
	if err != nil {
		extra := map[string]any{"trace": traceView(rc)}
		if rc != nil {
			extra["run_id"] = rc.RunID
			if rc.GeneratedSQL.SQL != "" {
				extra["sql"] = rc.GeneratedSQL.SQL
			}
			if !rc.Validation.OK && rc.Validation.Reason != "" {
				extra["reason"] = rc.Validation.Reason
			}
		}
		message := ""
		if rc != nil {
			message = pipeline.UserMessage(rc)
		}
		writeAppError(r.Context(), w, err, message, extra)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":            rc.RunID,
		"question":          rc.Question,
		"answer":            rc.Answer,
		"sql":               rc.GeneratedSQL.SQL,
		"tables":            rc.GeneratedSQL.Tables,
		"fast_path":         rc.FastPath,
		"cache_hit":         rc.FastPath,
		"matched_question":  rc.Match.MatchedQuestion,
		"similarity":        rc.Match.Similarity,
		"intent":            rc.Intent.Intent,
		"confidence":        rc.Intent.Confidence,
		"columns":           rc.Columns,
		"rows":              rc.Rows,
		"row_count":         len(rc.Rows),
		"execution_time_ms": float64(rc.ExecutionTime.Microseconds()) / 1000,
		"trace":             traceView(rc),
	})
}

func traceView(rc *pipeline.ResolutionContext) []stageView {
	if rc == nil {
		return []stageView{}
	}
	out := make([]stageView, 0, len(rc.Trace))
	for _, timing := range rc.Trace {
		out = append(out, stageView{
			Stage:      string(timing.Stage),
			Outcome:    timing.Outcome,
			DurationMS: float64(timing.Duration.Microseconds()) / 1000,
		})
	}
	return out
}
