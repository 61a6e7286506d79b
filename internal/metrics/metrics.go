package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_jobs_created_total",
		Help: "Total number of jobs created",
	}, []string{"kind"})

	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	}, []string{"kind"})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_jobs_failed_total",
		Help: "Total number of jobs that ended in failed status",
	}, []string{"kind"})

	StepsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_steps_processed_total",
		Help: "Total number of step messages applied",
	}, []string{"kind", "step"})

	StepsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_steps_skipped_total",
		Help: "Step messages dropped as stale, replayed, or for terminal jobs",
	}, []string{"kind", "reason"})

	ItemFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_item_failures_total",
		Help: "Item-level failures recorded by bulk jobs",
	}, []string{"kind"})

	DeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantjobs_dead_lettered_total",
		Help: "Step messages routed to a dead-letter queue",
	}, []string{"kind"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantjobs_step_duration_seconds",
		Help:    "Time taken to process one step message",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	ActiveConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenantjobs_active_consumers",
		Help: "Current number of queue consumers",
	})
)
