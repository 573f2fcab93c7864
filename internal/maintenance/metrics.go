package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	warmupRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_schema_warmup_runs_total",
			Help: "Total number of schema warmup runs by status.",
		},
		[]string{"status"},
	)
	exportRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_export_runs_total",
			Help: "Total number of QA export runs by status.",
		},
		[]string{"status"},
	)
	exportRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydb_export_rows_total",
			Help: "Total QA pairs written to parquet exports.",
		},
	)
	retentionExportsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydb_retention_exports_deleted_total",
			Help: "Total number of exports deleted by retention runs.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_integrity_runs_total",
			Help: "Total number of export integrity runs by status.",
		},
		[]string{"status"},
	)
	integrityIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydb_integrity_issues_total",
			Help: "Total number of export integrity issues by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		warmupRunsTotal,
		exportRunsTotal,
		exportRowsTotal,
		retentionExportsDeletedTotal,
		integrityRunsTotal,
		integrityIssuesTotal,
	)
}
