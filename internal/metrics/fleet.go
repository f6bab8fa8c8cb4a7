package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by job type",
		},
		[]string{"type"},
	)

	JobResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_job_results_total",
			Help: "Total number of job results reported by nodes",
		},
		[]string{"type", "status"},
	)

	PortAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_port_allocations_total",
			Help: "Port block allocation attempts, by outcome",
		},
		[]string{"outcome"},
	)

	AdmissionDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_admission_denials_total",
			Help: "Provisioning requests denied by disk protect mode",
		},
	)

	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_heartbeats_total",
			Help: "Heartbeats ingested from nodes",
		},
	)
)

// Port allocation outcomes.
const (
	OutcomeAllocated = "allocated"
	OutcomeReused    = "reused"
	OutcomeExhausted = "exhausted"
	OutcomeConflict  = "conflict"
)
