package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recotune_job_transitions_total",
			Help: "Total number of job status transitions by target status.",
		},
		[]string{"status"},
	)

	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recotune_job_duration_seconds",
			Help:    "Duration of tuning jobs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	TrialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recotune_trials_total",
			Help: "Total number of trials by outcome.",
		},
		[]string{"outcome"},
	)

	TrialDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recotune_trial_duration_seconds",
			Help:    "Wall time of trial worker processes in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	CandidatesInfeasibleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recotune_candidates_infeasible_total",
			Help: "Total number of candidates excluded by the memory budget.",
		},
		[]string{"candidate"},
	)

	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recotune_jobs_active",
			Help: "Number of tuning jobs currently executing on this node.",
		},
	)

	WorkerClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recotune_worker_claims_total",
			Help: "Total number of jobs successfully claimed by worker node.",
		},
		[]string{"node_id"},
	)

	WorkerClaimContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recotune_worker_claim_contention_total",
			Help: "Total number of worker claim contention events.",
		},
		[]string{"node_id"},
	)

	StudiesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recotune_studies_swept_total",
			Help: "Total number of orphaned study directories removed by the janitor.",
		},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recotune_callbacks_total",
			Help: "Total number of job callbacks invoked by type and result.",
		},
		[]string{"type", "result"},
	)
)

// Register registers all custom recotune metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		JobTransitionsTotal,
		JobDurationSeconds,
		TrialsTotal,
		TrialDurationSeconds,
		CandidatesInfeasibleTotal,
		JobsActive,
		WorkerClaimsTotal,
		WorkerClaimContentionTotal,
		StudiesSweptTotal,
		CallbacksTotal,
	)
}
