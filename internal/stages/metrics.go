package stages

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation call outcomes.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
)

var (
	generationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casefile_generation_calls_total",
		Help: "Total number of model generation calls, by task and outcome",
	}, []string{"task", "outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casefile_generation_duration_seconds",
		Help:    "Duration of model generation calls, by task",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"task"})
)
