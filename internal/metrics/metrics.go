// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var CreditGrants = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buzzcut",
	Subsystem: "credits",
	Name:      "grants_total",
	Help:      "Grant attempts by kind (welcome, daily, monthly, purchase) and outcome.",
}, []string{"kind", "outcome"})

var CreditDebits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buzzcut",
	Subsystem: "credits",
	Name:      "debits_total",
	Help:      "Debit attempts by outcome.",
}, []string{"outcome"})

var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buzzcut",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Payment provider webhook deliveries by event type and result.",
}, []string{"type", "result"})

var Generations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buzzcut",
	Subsystem: "generation",
	Name:      "jobs_total",
	Help:      "Finished generation jobs by status.",
}, []string{"status"})

var SweepLastGranted = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "buzzcut",
	Subsystem: "credits",
	Name:      "sweep_last_granted",
	Help:      "Customers granted monthly credits by the most recent sweep.",
})
