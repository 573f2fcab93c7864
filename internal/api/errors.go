package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/pipeline"
)

type errorMapping struct {
	status    int
	code      string
	retryable bool
}

func mapError(err error) errorMapping {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, "ASK_TIMEOUT", true}
	case errors.Is(err, context.Canceled):
		return errorMapping{499, "REQUEST_CANCELED", true}
	case pipeline.IsNoTables(err):
		return errorMapping{http.StatusUnprocessableEntity, "NO_RELEVANT_TABLES", false}
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return errorMapping{http.StatusUnprocessableEntity, "SQL_REJECTED", false}
	case apperr.KindQueryExecution:
		return errorMapping{http.StatusBadGateway, "QUERY_EXECUTION_FAILED", true}
	case apperr.KindAuth:
		return errorMapping{http.StatusBadGateway, "CATALOG_AUTH_FAILED", true}
	case apperr.KindSchemaFetch:
		return errorMapping{http.StatusBadGateway, "SCHEMA_FETCH_FAILED", true}
	case apperr.KindParse:
		return errorMapping{http.StatusUnprocessableEntity, "SQL_GENERATION_FAILED", false}
	case apperr.KindInference:
		return errorMapping{http.StatusBadGateway, "INFERENCE_FAILED", true}
	case apperr.KindNotFound:
		return errorMapping{http.StatusNotFound, "NOT_FOUND", false}
	case apperr.KindInvalidInput:
		return errorMapping{http.StatusBadRequest, "INVALID_REQUEST", false}
	default:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR", true}
	}
}

// writeAppError renders err with the status and code of its kind. message
// overrides the kind's own message when set.
func writeAppError(ctx context.Context, w http.ResponseWriter, err error, message string, extra map[string]any) {
	mapping := mapError(err)
	if message == "" {
		message = apperr.MessageOf(err)
	}
	if extra == nil {
		extra = map[string]any{}
	}
	if kind := apperr.KindOf(err); kind != "" {
		extra["kind"] = string(kind)
	}
	extra["details"] = err.Error()
	writeError(ctx, w, mapping.status, mapping.code, message, mapping.retryable, extra)
}

func writeNotConfigured(ctx context.Context, w http.ResponseWriter, code, what string) {
	writeError(ctx, w, http.StatusNotImplemented, code, what+" is not configured", false, nil)
}
