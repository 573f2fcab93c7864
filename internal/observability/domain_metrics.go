package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_resolutions_total",
			Help: "Total number of question resolutions by path and outcome.",
		},
		[]string{"path", "outcome"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querydb_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	sqlRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydb_sql_rejections_total",
			Help: "Total number of generated statements rejected by the SQL validator.",
		},
	)
	matcherSimilarity = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querydb_matcher_similarity",
			Help:    "Similarity score of the best stored question for each lookup.",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.98, 1},
		},
	)
	catalogRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_catalog_requests_total",
			Help: "Total number of remote catalog calls by call and status.",
		},
		[]string{"call", "status"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_cache_lookups_total",
			Help: "Total number of cache lookups by cache and result.",
		},
		[]string{"cache", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		resolutionsTotal,
		stageDurationSeconds,
		sqlRejectionsTotal,
		matcherSimilarity,
		catalogRequestsTotal,
		cacheLookupsTotal,
	)
}

func ObserveResolution(path, outcome string) {
	resolutionsTotal.WithLabelValues(path, outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementSQLRejections() {
	sqlRejectionsTotal.Inc()
}

func ObserveSimilarity(score float64) {
	if score < 0 {
		score = 0
	}
	matcherSimilarity.Observe(score)
}

func ObserveCatalogRequest(call, status string) {
	catalogRequestsTotal.WithLabelValues(call, status).Inc()
}

func ObserveCacheLookup(cacheName string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cacheName, result).Inc()
}
