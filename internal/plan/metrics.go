package plan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "flowplan"
	metricsSubsystem = "planner"
)

// Metrics holds the Prometheus collectors of the planner.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// PhaseSeconds measures time spent per phase.
	// Labels: registry, phase
	PhaseSeconds *prometheus.HistogramVec

	// RuleSeconds measures time spent per rule application.
	// Labels: registry, phase, rule
	RuleSeconds *prometheus.HistogramVec

	// RunsTotal counts registry runs by outcome.
	// Labels: registry, status (success, unsupported, failure, cancelled)
	RunsTotal *prometheus.CounterVec

	// RaceWinsTotal counts races won per registry.
	// Labels: registry
	RaceWinsTotal *prometheus.CounterVec
}

// NewMetrics creates the planner collectors and registers them with reg.
// A nil reg leaves them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each planning phase.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"registry", "phase"}),
		RuleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rule_duration_seconds",
			Help:      "Time spent applying each planning rule.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"registry", "phase", "rule"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_total",
			Help:      "Registry runs by outcome.",
		}, []string{"registry", "status"}),
		RaceWinsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "race_wins_total",
			Help:      "Registry races won, by registry.",
		}, []string{"registry"}),
	}

	if reg != nil {
		reg.MustRegister(m.PhaseSeconds, m.RuleSeconds, m.RunsTotal, m.RaceWinsTotal)
	}
	return m
}

func (m *Metrics) observePhase(registry string, p Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseSeconds.WithLabelValues(registry, p.String()).Observe(d.Seconds())
}

func (m *Metrics) observeRule(registry string, p Phase, rule string, d time.Duration) {
	if m == nil {
		return
	}
	m.RuleSeconds.WithLabelValues(registry, p.String(), rule).Observe(d.Seconds())
}

func (m *Metrics) countRun(registry string, err error) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(registry, runStatus(err)).Inc()
}

func (m *Metrics) countWin(registry string) {
	if m == nil {
		return
	}
	m.RaceWinsTotal.WithLabelValues(registry).Inc()
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsUnsupported(err):
		return "unsupported"
	case isCancelled(err):
		return "cancelled"
	default:
		return "failure"
	}
}
