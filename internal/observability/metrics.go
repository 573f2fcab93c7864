package observability

import "github.com/prometheus/client_golang/prometheus"

var httpLabels = []string{"method", "route", "status"}

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querydb_http_requests_total",
		Help: "HTTP requests served, by matched route.",
	}, httpLabels)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "querydb_http_request_duration_seconds",
		Help: "HTTP latency by matched route. Ask requests include LLM and catalog time.",
		// Ask requests run for seconds, so the upper buckets go past DefBuckets.
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
	}, httpLabels)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds)
}
