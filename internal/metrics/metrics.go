// Package metrics provides Prometheus metrics for client reconciliation.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Phase labels.
const (
	PhasePreSave      = "presave"
	PhasePostAnalysis = "postanalysis"
)

// Metrics contains Prometheus metrics for the reconciliation workflow.
type Metrics struct {
	matchLookupsTotal   *prometheus.CounterVec
	confirmationsTotal  *prometheus.CounterVec
	clientsCreatedTotal *prometheus.CounterVec
	contactSyncTotal    *prometheus.CounterVec
	extractionsTotal    *prometheus.CounterVec
	extractionDuration  prometheus.Histogram
	pendingGauge        prometheus.Gauge
}

// New creates and registers reconciliation metrics on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		matchLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_match_lookups_total",
				Help: "Client match lookups by phase and outcome",
			},
			[]string{"phase", "outcome"}, // outcome: none, exact, suggested, error
		),
		confirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_confirmations_total",
				Help: "Answered confirmations by phase and decision",
			},
			[]string{"phase", "decision"},
		),
		clientsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_clients_created_total",
				Help: "Clients created by the reconciliation workflow",
			},
			[]string{"phase"},
		),
		contactSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_contact_sync_total",
				Help: "Contact sync runs by result",
			},
			[]string{"result"}, // ok, partial_failure
		),
		extractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_extractions_total",
				Help: "AI extractions by result",
			},
			[]string{"result"}, // ok, error
		),
		extractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roster_extraction_duration_seconds",
			Help:    "Time taken by the AI extraction adapter",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roster_pending_confirmations",
			Help: "Confirmations currently awaiting an answer",
		}),
	}

	if registerer != nil {
		for _, c := range m.collectors() {
			if err := registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.matchLookupsTotal,
		m.confirmationsTotal,
		m.clientsCreatedTotal,
		m.contactSyncTotal,
		m.extractionsTotal,
		m.extractionDuration,
		m.pendingGauge,
	}
}

// RecordLookup counts a match lookup.
func (m *Metrics) RecordLookup(phase, outcome string) {
	if m == nil {
		return
	}
	m.matchLookupsTotal.WithLabelValues(phase, outcome).Inc()
}

// RecordConfirmation counts an applied accept or reject.
func (m *Metrics) RecordConfirmation(phase string, accepted bool) {
	if m == nil {
		return
	}
	decision := "reject"
	if accepted {
		decision = "accept"
	}
	m.confirmationsTotal.WithLabelValues(phase, decision).Inc()
}

// RecordClientCreated counts a client created by the workflow.
func (m *Metrics) RecordClientCreated(phase string) {
	if m == nil {
		return
	}
	m.clientsCreatedTotal.WithLabelValues(phase).Inc()
}

// RecordContactSync counts a contact sync run.
func (m *Metrics) RecordContactSync(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "partial_failure"
	}
	m.contactSyncTotal.WithLabelValues(result).Inc()
}

// RecordExtraction counts an extraction and observes its duration.
func (m *Metrics) RecordExtraction(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.extractionsTotal.WithLabelValues(result).Inc()
	m.extractionDuration.Observe(elapsed.Seconds())
}

// SetPending sets the number of parked confirmations.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingGauge.Set(float64(n))
}
