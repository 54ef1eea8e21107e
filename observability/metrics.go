// Package observability exposes the Prometheus collectors shared by ledger
// components.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics instruments revenue recording, settlement dispatch, and
// compliance evaluation.
type LedgerMetrics struct {
	RevenueEvents      *prometheus.CounterVec
	SettlementAttempts *prometheus.CounterVec
	ComplianceRuns     prometheus.Counter
	ComplianceShifts   *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

var (
	ledgerOnce sync.Once
	ledgerReg  *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry. Collectors
// register against the default registerer exactly once per process.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerReg = &LedgerMetrics{
			RevenueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "attribledger",
				Subsystem: "revenue",
				Name:      "events_total",
				Help:      "Revenue events recorded, labelled by currency.",
			}, []string{"currency"}),
			SettlementAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "attribledger",
				Subsystem: "settlement",
				Name:      "attempts_total",
				Help:      "Settlement dispatch attempts, labelled by outcome.",
			}, []string{"outcome"}),
			ComplianceRuns: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "attribledger",
				Subsystem: "compliance",
				Name:      "evaluations_total",
				Help:      "Compliance evaluations performed.",
			}),
			ComplianceShifts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "attribledger",
				Subsystem: "compliance",
				Name:      "transitions_total",
				Help:      "Lifecycle transitions driven by compliance scores.",
			}, []string{"direction"}),
			HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "attribledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Gateway request latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method", "status"}),
		}
		prometheus.MustRegister(
			ledgerReg.RevenueEvents,
			ledgerReg.SettlementAttempts,
			ledgerReg.ComplianceRuns,
			ledgerReg.ComplianceShifts,
			ledgerReg.HTTPDuration,
		)
	})
	return ledgerReg
}

// Outcome labels for settlement attempt metrics.
const (
	OutcomeSettled   = "settled"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeBlocked   = "blocked"
)

// Direction labels for compliance transition metrics.
const (
	DirectionViolated  = "violated"
	DirectionRecovered = "recovered"
)
