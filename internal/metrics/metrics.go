// Package metrics declares the portal's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts application submissions by outcome
	// (ok, invalid, unauthenticated, busy, upload_failed, insert_failed).
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studx",
		Name:      "submissions_total",
		Help:      "Bus pass application submissions by outcome.",
	}, []string{"outcome"})

	// StepDuration observes each external step of a submission.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "studx",
		Name:      "submission_step_seconds",
		Help:      "Duration of submission steps (upload, insert).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	// PassLookups counts pass and dashboard reads by result (found, not_found, error).
	PassLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studx",
		Name:      "pass_lookups_total",
		Help:      "Pass record reads by view and result.",
	}, []string{"view", "result"})

	// AuditEvents counts issuance events handled by the worker.
	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studx",
		Name:      "audit_events_total",
		Help:      "Pass issuance events processed by the worker.",
	}, []string{"result"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studx",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)
