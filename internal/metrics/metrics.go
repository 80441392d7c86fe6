// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geosurvey"

// Trigger decisions.
const (
	Admitted   = "admitted"
	Rejected   = "rejected"
	Suppressed = "suppressed"
)

var (
	SamplesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_received_total",
			Help:      "Samples and signals accepted by the engine, by kind.",
		},
		[]string{"kind"},
	)

	SamplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Location samples ignored before area resolution, by reason.",
		},
		[]string{"reason"},
	)

	DwellTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dwell_transitions_total",
			Help:      "Dwell tracker state changes, by kind.",
		},
		[]string{"kind"},
	)

	Triggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Trigger decisions by source and outcome.",
		},
		[]string{"source", "decision"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification lifecycle events by status.",
		},
		[]string{"status"},
	)

	GeocodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_failures_total",
			Help:      "Reverse geocoding calls that failed or returned no neighborhood.",
		},
	)

	AuditRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_rows_total",
			Help:      "Audit records written or dropped.",
		},
		[]string{"result"},
	)
)
