// Package metric holds the Prometheus instrumentation for the event pipeline.
package metric

import "github.com/prometheus/client_golang/prometheus"

// Set groups the pipeline counters and the registry they live on.
type Set struct {
	registry *prometheus.Registry

	EventsIngested    prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	EventsProcessed   prometheus.Counter
	EventsRetried     prometheus.Counter
	EventsDeadLetter  prometheus.Counter
	SweepRuns         prometheus.Counter
}

// NewSet creates the counters on a private registry.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_events_ingested_total",
			Help: "Distinct events accepted into the ledger.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_events_duplicate_total",
			Help: "Redeliveries skipped by fingerprint deduplication.",
		}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_events_processed_total",
			Help: "Events that reached PROCESSED.",
		}),
		EventsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_events_retried_total",
			Help: "Failed attempts that moved an event to RETRY.",
		}),
		EventsDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_events_dead_letter_total",
			Help: "Events routed to DLQ after exhausting retries.",
		}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_sweep_runs_total",
			Help: "Reprocessing sweep executions.",
		}),
	}

	s.registry.MustRegister(
		s.EventsIngested,
		s.DuplicatesSkipped,
		s.EventsProcessed,
		s.EventsRetried,
		s.EventsDeadLetter,
		s.SweepRuns,
	)
	return s
}

// Registry exposes the underlying registry for the HTTP exposition handler.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}
