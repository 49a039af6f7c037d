// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitreg_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fitreg_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitreg_messages_total",
		Help: "Registration messages processed, by step at arrival",
	}, []string{"step"})

	StepTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitreg_step_transitions_total",
		Help: "Registration step changes",
	}, []string{"from", "to"})

	RegistrationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitreg_registrations_completed_total",
		Help: "Profiles that reached the complete step",
	})

	ExtractionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitreg_extraction_outcomes_total",
		Help: "Field extraction results by outcome (valid, malformed, failed)",
	}, []string{"outcome"})

	ExtractedFieldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitreg_extracted_fields_total",
		Help: "Extracted field values by validation result",
	}, []string{"field", "result"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitreg_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"backend", "model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fitreg_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"backend", "model"})

	UsersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitreg_users_in_flight",
		Help: "Users with a message currently being processed",
	})
)
