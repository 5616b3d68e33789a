package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_api_requests_total",
			Help: "Number of API requests",
		},
		[]string{"method", "path", "status"},
	)
	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xray_api_latency_seconds",
			Help:    "API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	ScansStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_scans_started_total",
			Help: "Scans started, by scan type and whether they resume a prior scan",
		},
		[]string{"type", "resume"},
	)
	ScansFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_scans_finished_total",
			Help: "Scans finished, by terminal status",
		},
		[]string{"status"},
	)
	TablesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xray_tables_scanned_total",
			Help: "Tables analyzed across all scans",
		},
	)
	IssuesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_issues_found_total",
			Help: "Structural issues detected, by issue type",
		},
		[]string{"type"},
	)
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xray_scan_duration_seconds",
			Help:    "Wall time of completed scans",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	WorkloadPhases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_workload_phases_total",
			Help: "Workload analysis phases executed, by phase and result",
		},
		[]string{"phase", "result"},
	)
	QueryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xray_query_retries_total",
			Help: "Target queries retried after a transient error",
		},
	)
	PoolRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xray_pool_rebuilds_total",
			Help: "Connection pools torn down and rebuilt",
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequests,
		APILatency,
		ScansStarted,
		ScansFinished,
		TablesScanned,
		IssuesFound,
		ScanDuration,
		WorkloadPhases,
		QueryRetries,
		PoolRebuilds,
	)
}
