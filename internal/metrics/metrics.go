package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trendwatch"

// Metrics holds the pipeline counters. One instance per process; tests may
// build their own against a private registry.
type Metrics struct {
	registry prometheus.Registerer

	EvidenceIngested *prometheus.CounterVec
	EvidenceRejected *prometheus.CounterVec
	JobExecutions    *prometheus.CounterVec
	DedupDecisions   *prometheus.CounterVec
	EventsUpdated    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		EvidenceIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evidence_ingested_total",
				Help:      "Evidence items accepted by the store",
			},
			[]string{"source_type", "outcome"},
		),
		EvidenceRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evidence_rejected_total",
				Help:      "Evidence items dropped by per-item validation",
			},
			[]string{"reason"},
		),
		JobExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_executions_total",
				Help:      "Scheduled job invocations by final status",
			},
			[]string{"job", "status"},
		),
		DedupDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_decisions_total",
				Help:      "Deduplication reconcile decisions",
			},
			[]string{"decision"},
		),
		EventsUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trend_events_updated_total",
				Help:      "Trend event upserts performed by the aggregator",
			},
		),
	}

	reg.MustRegister(
		m.EvidenceIngested,
		m.EvidenceRejected,
		m.JobExecutions,
		m.DedupDecisions,
		m.EventsUpdated,
	)
	return m
}
