// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	GenAIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genai_requests_total",
			Help: "Chat completion calls by final outcome",
		},
		[]string{"status"},
	)

	GenAIRateLimitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genai_rate_limit_retries_total",
			Help: "Retries scheduled after a rate-limited completion call",
		},
	)

	FeasibilityFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feasibility_fallbacks_total",
			Help: "Feasibility checks answered with the fixed fallback verdict",
		},
	)

	EstimateCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estimate_cache_lookups_total",
			Help: "Estimate cache lookups by result",
		},
		[]string{"result"},
	)
)
