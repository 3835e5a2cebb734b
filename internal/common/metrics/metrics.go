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

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	// SettlementSteps counts orchestrator steps by outcome: ok, skipped, failed, ambiguous.
	SettlementSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_steps_total",
			Help: "Settlement steps executed, by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	SettlementStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_step_duration_seconds",
			Help:    "Duration of a single settlement step",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"step"},
	)

	PaymentTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transfers_total",
			Help: "Ledger transfers attempted by the payment adapter, by result",
		},
		[]string{"result"},
	)

	StaleApplications = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settlement_stale_applications",
			Help: "Applications stuck in a post-payment status found by the last reconciliation sweep",
		},
		[]string{"status"},
	)
)
