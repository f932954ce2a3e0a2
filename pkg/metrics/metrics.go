package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_ticks_total", Help: "Periodic trigger passes"},
	)
	RunsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_runs_created_total", Help: "Campaign runs materialized"},
	)
	RunConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_run_conflicts_total", Help: "Duplicate run inserts rejected by the period constraint"},
	)
	RunsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_runs_failed_total", Help: "Campaign runs marked failed"},
	)
	PublishedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_published_jobs_total", Help: "Dispatch jobs published to queue"},
	)

	WorkerJobsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_consumed_total", Help: "Jobs consumed"},
	)
	WorkerJobsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_sent_total", Help: "Jobs sent successfully"},
	)
	WorkerJobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_jobs_failed_total", Help: "Jobs failed terminally"},
		[]string{"kind"},
	)
	WorkerJobRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_job_retries_total", Help: "Retries performed"},
	)
	WorkerProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_process_duration_seconds",
			Help:    "Time spent processing a job",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_status_events_total", Help: "Gateway status callbacks by outcome"},
		[]string{"status", "outcome"},
	)
	OTPIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "otp_issued_total", Help: "One-time codes issued"},
		[]string{"purpose"},
	)
	OTPVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "otp_verifications_total", Help: "One-time code verifications by result"},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		SchedulerTicks, RunsCreated, RunConflicts, RunsFailed, PublishedJobsTotal,
		WorkerJobsConsumed, WorkerJobsSent, WorkerJobsFailed, WorkerJobRetries, WorkerProcessDuration,
		StatusEvents, OTPIssued, OTPVerifications,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on its own listener for the headless processes.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
