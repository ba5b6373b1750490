package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casefile_pipeline_runs_total",
		Help: "Total number of pipeline runs, by outcome",
	}, []string{"outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casefile_pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	framesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "casefile_frames_sampled_total",
		Help: "Total number of frames sampled across all runs",
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "casefile_pipeline_active_runs",
		Help: "Number of pipeline runs currently executing",
	})
)
