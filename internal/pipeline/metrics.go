package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Metrics holds Prometheus metrics for the remediation pipeline.
type Metrics struct {
	IngestedTotal   prometheus.Counter
	OutcomesTotal   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	Confidence      prometheus.Histogram
	PatchAttempts   prometheus.Histogram
	EscalationTotal *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_incidents_ingested_total",
			Help: "Total incidents accepted for processing.",
		}),
		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_incident_outcomes_total",
			Help: "Pipeline runs and human decisions by resulting status.",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"stage"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_investigation_confidence",
			Help:    "Confidence of completed investigations.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}),
		PatchAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_patch_attempts",
			Help:    "Patch attempts recorded on an incident when its run ends.",
			Buckets: prometheus.LinearBuckets(0, 1, 8), // 0 .. 7
		}),
		EscalationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_escalations_total",
			Help: "Escalations by the stage that raised them.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.IngestedTotal,
		m.OutcomesTotal,
		m.StageDuration,
		m.Confidence,
		m.PatchAttempts,
		m.EscalationTotal,
	)
	return m
}

// Hooks returns an EngineHooks that records into m.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnIngest: m.IngestedTotal.Inc,
		OnStage: func(stage incident.Stage, d time.Duration) {
			m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
		},
		OnInvestigation: m.Confidence.Observe,
		OnOutcome: func(status incident.Status, attempts int) {
			m.OutcomesTotal.WithLabelValues(string(status)).Inc()
			if status != incident.StatusApproved && status != incident.StatusRejected {
				m.PatchAttempts.Observe(float64(attempts))
			}
		},
		OnEscalation: func(stage incident.Stage) {
			m.EscalationTotal.WithLabelValues(string(stage)).Inc()
		},
	}
}
