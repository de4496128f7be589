package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moerouter",
		Name:      "selections_total",
		Help:      "Routing decisions made, labeled by task type and selected model.",
	}, []string{"task_type", "model"})
	metricSelectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moerouter",
		Name:      "selection_errors_total",
		Help:      "Routing calls that raised an error, labeled by kind.",
	}, []string{"kind"})
	metricParallelDecisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "moerouter",
		Name:      "parallel_decisions_total",
		Help:      "Decisions that fanned out to multiple models.",
	})
	metricOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moerouter",
		Name:      "outcomes_total",
		Help:      "Reported request outcomes, labeled by model and result.",
	}, []string{"model", "result"})
	metricFeedback = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "moerouter",
		Name:      "feedback_events_total",
		Help:      "Feedback events ingested by the learning loop.",
	})
	metricSelectionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "moerouter",
		Name:      "selection_duration_seconds",
		Help:      "Wall time spent inside a routing decision.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
	})
	metricEstimatedCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "moerouter",
		Name:      "estimated_cost_dollars",
		Help:      "Estimated cost of selected models per decision.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

func recordSelection(taskType, modelID string, parallel bool) {
	metricSelections.WithLabelValues(taskType, modelID).Inc()
	if parallel {
		metricParallelDecisions.Inc()
	}
}

func recordSelectionError(kind string) {
	metricSelectionErrors.WithLabelValues(kind).Inc()
}

func recordOutcome(modelID string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	metricOutcomes.WithLabelValues(modelID, result).Inc()
}
