// Package metrics exposes pipeline metrics to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trustgate"

// Leadership states reported by the leadership gauge.
var leadershipStates = []string{"STOPPED", "STARTING", "LEADING"}

// Metrics holds the pipeline collectors.
//
// Metrics:
//   - trustgate_jobs_total{type,outcome} - processed job attempts
//   - trustgate_job_duration_seconds{type} - handler duration per attempt
//   - trustgate_dead_letters_total{type,kind} - jobs moved to the dead-letter store
//   - trustgate_extractions_total{path} - documents resolved by pattern or model
//   - trustgate_extraction_duration_seconds{path,tier} - resolve duration
//   - trustgate_gate_decisions_total{action,review_type} - risk gate routing
//   - trustgate_leadership_state{state} - 1 for the current supervisor state
type Metrics struct {
	JobsTotal          *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	DeadLettersTotal   *prometheus.CounterVec
	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	GateDecisionsTotal *prometheus.CounterVec
	LeadershipState    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Processed job attempts by outcome.",
		}, []string{"type", "outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handler duration per attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
		}, []string{"type"}),
		DeadLettersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Jobs moved to the dead-letter store.",
		}, []string{"type", "kind"}),
		ExtractionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Documents resolved, by pattern match or model extraction.",
		}, []string{"path"}),
		ExtractionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Decision engine resolve duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 13),
		}, []string{"path", "tier"}),
		GateDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Risk gate routing decisions.",
		}, []string{"action", "review_type"}),
		LeadershipState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leadership_state",
			Help:      "Worker leadership state of this instance; 1 for the current state.",
		}, []string{"state"}),
	}
}

// OnEvent implements worker.Observer.
func (m *Metrics) OnEvent(_ context.Context, ev worker.Event) {
	jobType := string(ev.Type)
	m.JobsTotal.WithLabelValues(jobType, string(ev.Outcome)).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(ev.Duration.Seconds())
	if ev.Outcome == worker.OutcomeDead {
		m.DeadLettersTotal.WithLabelValues(jobType, string(apperr.KindOf(ev.Err))).Inc()
	}
}

// ObserveExtraction records one resolved document.
func (m *Metrics) ObserveExtraction(usedModel bool, tier string, d time.Duration) {
	path := "pattern"
	if usedModel {
		path = "model"
	}
	m.ExtractionsTotal.WithLabelValues(path).Inc()
	m.ExtractionDuration.WithLabelValues(path, tier).Observe(d.Seconds())
}

// ObserveGate records one gate decision. reviewType is empty for auto-activation.
func (m *Metrics) ObserveGate(action, reviewType string) {
	m.GateDecisionsTotal.WithLabelValues(action, reviewType).Inc()
}

// SetLeadership marks state as the current leadership state.
func (m *Metrics) SetLeadership(state string) {
	for _, s := range leadershipStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.LeadershipState.WithLabelValues(s).Set(v)
	}
}

// Compile-time check that Metrics implements worker.Observer.
var _ worker.Observer = (*Metrics)(nil)
