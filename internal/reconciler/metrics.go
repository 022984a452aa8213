package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters are registered on the default registry and exposed through the
// HTTP server's /metrics endpoint. adjustmentsTotal moves only on the
// non-idempotent applied path; redeliveries show up in eventsTotal under
// their idempotent outcome instead.
var (
	adjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_adjustments_total",
		Help: "Economic effects applied to the ledger, by entry type.",
	}, []string{"type"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_events_total",
		Help: "Processed triggers, by trigger kind and outcome.",
	}, []string{"trigger", "outcome"})

	sweepJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_sweep_jobs_total",
		Help: "Jobs visited by the reconciliation sweep, by result.",
	}, []string{"result"})

	anomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_anomalies_total",
		Help: "Jobs flagged by the anomaly detector.",
	})
)
