// Package metrics registers the Prometheus collectors the rest of the
// control plane reports through: reconciliation outcomes, event-bus
// drops, and admission chain latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReconcileDuration observes wall-clock time per reconcile attempt,
	// labeled by resource type and outcome.
	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "controlplane_reconcile_duration_seconds",
		Help:    "Duration of a single reconcile attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource_type", "outcome"})

	// ReconcileTotal counts attempts by outcome.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_reconcile_total",
		Help: "Total reconcile attempts.",
	}, []string{"resource_type", "outcome"})

	// ActiveReconciles reports the current in-flight reconcile count.
	ActiveReconciles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_active_reconciles",
		Help: "Number of reconcile tasks currently running.",
	})

	// EventBusDropped counts events dropped for a full subscriber queue,
	// keyed by subscription ID.
	EventBusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_eventbus_dropped_total",
		Help: "Events dropped because a subscriber queue was full.",
	}, []string{"subscription_id"})

	// AdmissionDuration is the webhook call latency histogram, labeled by
	// webhook name and whether it was allowed. It is registered, but no
	// code path in the control plane observes it.
	AdmissionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "controlplane_admission_webhook_duration_seconds",
		Help:    "Duration of a single admission webhook call.",
		Buckets: prometheus.DefBuckets,
	}, []string{"webhook", "allowed"})

	// SchedulerTickDuration observes how long a full scheduler tick
	// (claim + dispatch) takes.
	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "controlplane_scheduler_tick_duration_seconds",
		Help:    "Duration of one scheduler tick.",
		Buckets: prometheus.DefBuckets,
	})
)

// MustRegister registers every collector above against reg. main calls it
// once with prometheus.DefaultRegisterer; tests can pass their own registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ReconcileDuration,
		ReconcileTotal,
		ActiveReconciles,
		EventBusDropped,
		AdmissionDuration,
		SchedulerTickDuration,
	)
}
