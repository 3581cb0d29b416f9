package pkg

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycraft_pipeline_runs_total",
			Help: "Total number of pipeline runs by generation method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	pipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querycraft_pipeline_duration_seconds",
			Help:    "End-to-end pipeline latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	validationRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycraft_validation_rejects_total",
			Help: "Statements rejected by the validator, by reason code.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(pipelineRunsTotal, pipelineDurationSeconds, validationRejectsTotal)
}

func RecordPipelineRun(method, outcome string, duration time.Duration) {
	pipelineRunsTotal.WithLabelValues(method, outcome).Inc()
	pipelineDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordValidationReject(reason string) {
	validationRejectsTotal.WithLabelValues(reason).Inc()
}
