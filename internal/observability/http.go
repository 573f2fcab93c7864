package observability

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const traceHeader = "X-Trace-ID"

// TraceMiddleware adopts the caller's X-Trace-ID or mints one, and echoes it
// back so clients can quote it when reporting a failed question.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(traceHeader)
		if id == "" {
			id = newTraceID()
		}
		w.Header().Set(traceHeader, id)
		next.ServeHTTP(w, r.WithContext(ContextWithTraceID(r.Context(), id)))
	})
}

// LoggingMiddleware writes one line per request. Query strings go through
// Mask because lookups carry questions and sometimes credentials.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := serveObserved(next, w, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http_request",
				slog.String("trace_id", TraceIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("route", routeLabel(r)),
				slog.String("path", r.URL.Path),
				slog.String("query", Mask(r.URL.RawQuery)),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", done.status),
				slog.Int("bytes", done.bytes),
				slog.Duration("duration", done.elapsed),
			)
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := serveObserved(next, w, r)
		labels := []string{r.Method, routeLabel(r), strconv.Itoa(done.status)}
		httpRequestsTotal.WithLabelValues(labels...).Inc()
		httpRequestDurationSeconds.WithLabelValues(labels...).Observe(done.elapsed.Seconds())
	})
}

type served struct {
	status  int
	bytes   int
	elapsed time.Duration
}

func serveObserved(next http.Handler, w http.ResponseWriter, r *http.Request) served {
	start := time.Now()
	rw := &responseObserver{ResponseWriter: w}
	next.ServeHTTP(rw, r)
	status := rw.status
	if status == 0 {
		status = http.StatusOK
	}
	return served{status: status, bytes: rw.bytes, elapsed: time.Since(start)}
}

// routeLabel is the ServeMux pattern, which the mux stores on the request it
// was handed. Table names in paths would otherwise blow up label cardinality.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

type responseObserver struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (o *responseObserver) WriteHeader(status int) {
	if o.status == 0 {
		o.status = status
	}
	o.ResponseWriter.WriteHeader(status)
}

func (o *responseObserver) Write(body []byte) (int, error) {
	if o.status == 0 {
		o.status = http.StatusOK
	}
	n, err := o.ResponseWriter.Write(body)
	o.bytes += n
	return n, err
}

func newTraceID() string {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(id[:])
}
