// Package metrics exports memory statistics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/sleep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nuka_memory"

// Exporter holds the collectors. Store sizes are gauges refreshed from
// integrator stats; sessions, dreams and queries are recorded as they
// happen.
type Exporter struct {
	registry *prometheus.Registry

	items       *prometheus.GaugeVec
	links       prometheus.Gauge
	systemAge   prometheus.Gauge
	activeSleep prometheus.Gauge
	operational prometheus.Gauge

	sessions  *prometheus.CounterVec
	replays   *prometheus.CounterVec
	transfers prometheus.Counter
	dreams    *prometheus.CounterVec
	queries   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New creates an exporter on its own registry. A nil registry creates one.
func New(registry *prometheus.Registry) *Exporter {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	e := &Exporter{registry: registry}

	e.items = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "items",
		Help:      "Items held per memory system",
	}, []string{"system"})
	e.links = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cross_system_links",
		Help:      "Cross-system links in the integrator index",
	})
	e.systemAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "development",
		Name:      "system_age_seconds",
		Help:      "Developmental age of the system",
	})
	e.activeSleep = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sleep",
		Name:      "active",
		Help:      "1 while a consolidation session runs",
	})
	e.operational = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "operational",
		Help:      "1 when every enabled subsystem is ready",
	})

	e.sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sleep",
		Name:      "sessions_total",
		Help:      "Finished consolidation sessions",
	}, []string{"outcome"})
	e.replays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sleep",
		Name:      "replays_total",
		Help:      "Replays injected into the substrate",
	}, []string{"phase"})
	e.transfers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sleep",
		Name:      "episodic_transfers_total",
		Help:      "Episodes transferred into semantic memory",
	})
	e.dreams = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dream",
		Name:      "narratives_total",
		Help:      "Dreams generated per type",
	}, []string{"type"})
	e.queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Cross-system queries",
	}, []string{"kind"})
	e.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_latency_seconds",
		Help:      "Cross-system query latency",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"kind"})

	registry.MustRegister(
		e.items,
		e.links,
		e.systemAge,
		e.activeSleep,
		e.operational,
		e.sessions,
		e.replays,
		e.transfers,
		e.dreams,
		e.queries,
		e.latency,
	)
	return e
}

// Refresh copies integrator statistics into the gauges.
func (e *Exporter) Refresh(s integrator.Stats) {
	if s.Working != nil {
		e.items.WithLabelValues("working").Set(float64(s.Working.Count))
	}
	if s.Episodic != nil {
		e.items.WithLabelValues("episodic").Set(float64(s.Episodic.Count))
	}
	if s.Semantic != nil {
		e.items.WithLabelValues("semantic").Set(float64(s.Semantic.Count))
	}
	if s.Procedural != nil {
		e.items.WithLabelValues("procedural").Set(float64(s.Procedural.Skills))
	}
	if s.Development != nil {
		e.systemAge.Set(s.Development.SystemAge.Seconds())
	}
	if s.Sleep != nil {
		e.activeSleep.Set(boolGauge(s.Sleep.Active))
	}
	e.links.Set(float64(s.Links))
	e.operational.Set(boolGauge(s.Operational))
}

// RecordSession is a sleep observer.
func (e *Exporter) RecordSession(r sleep.Report) {
	outcome := "completed"
	if r.Stopped {
		outcome = "stopped"
	}
	e.sessions.WithLabelValues(outcome).Inc()
	e.replays.WithLabelValues("slow_wave").Add(float64(r.SlowWaveReplays))
	e.replays.WithLabelValues("rem").Add(float64(r.REMReplays))
	e.transfers.Add(float64(r.Transferred))
	if r.Dream != nil {
		e.dreams.WithLabelValues(r.Dream.Type.String()).Inc()
	}
}

// RecordQuery records one query of the given kind.
func (e *Exporter) RecordQuery(kind string, took time.Duration) {
	e.queries.WithLabelValues(kind).Inc()
	e.latency.WithLabelValues(kind).Observe(took.Seconds())
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
