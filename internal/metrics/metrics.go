// Package metrics exposes the daemon's Prometheus instruments.
//
// Every method is safe to call on a nil *Metrics so components can be built
// without metrics in tests and when [metrics] is disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Bus outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"
	OutcomeOverflow  = "overflow"
)

type Metrics struct {
	registry prometheus.Registerer

	busEvents      *prometheus.CounterVec
	timerFires     *prometheus.CounterVec
	timerDuration  *prometheus.HistogramVec
	activeEntities *prometheus.GaugeVec
	activations    *prometheus.CounterVec
	sessions       prometheus.Gauge
	expansions     *prometheus.CounterVec
	backupRuns     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// New creates and registers all instruments under namespace. A nil reg
// falls back to the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		busEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_events_total",
				Help:      "Notification bus events by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		timerFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timer_fires_total",
				Help:      "Durable timer firings by entity kind and result",
			},
			[]string{"kind", "result"},
		),
		timerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "timer_fire_duration_seconds",
				Help:      "Duration of timer handler execution",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		activeEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities_active",
				Help:      "Number of activated entities",
			},
			[]string{"kind"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_activations_total",
				Help:      "Entity activations by kind and result",
			},
			[]string{"kind", "result"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live sessions",
			},
		),
		expansions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coordinator_jobs_total",
				Help:      "Backup jobs produced by coordinator expansion, by result",
			},
			[]string{"result"},
		),
		backupRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backup_runs_total",
				Help:      "Backup job runs by final status",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Gateway HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
	}

	reg.MustRegister(
		m.busEvents,
		m.timerFires,
		m.timerDuration,
		m.activeEntities,
		m.activations,
		m.sessions,
		m.expansions,
		m.backupRuns,
		m.httpRequests,
	)

	return m
}

func (m *Metrics) BusEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.busEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) TimerFired(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.timerFires.WithLabelValues(kind, result(err)).Inc()
	m.timerDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) Activated(kind string, err error) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(kind, result(err)).Inc()
	if err == nil {
		m.activeEntities.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Deactivated(kind string) {
	if m == nil {
		return
	}
	m.activeEntities.WithLabelValues(kind).Dec()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) JobExpanded(err error) {
	if m == nil {
		return
	}
	m.expansions.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) BackupRun(status string) {
	if m == nil {
		return
	}
	m.backupRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusText(code)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
