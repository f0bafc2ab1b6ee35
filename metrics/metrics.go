// Package metrics vends the Prometheus metrics of note service components.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "note"

// Share link outcomes
const (
	ShareCreated  = "created"
	ShareResolved = "resolved"
	ShareRejected = "rejected"
)

// Metrics holds Prometheus metrics for a service. Each instance owns its registry, so that
// several instances, e.g. one per test, never collide. Domain recorders are no-ops on a nil
// *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec
	ShareLinks       *prometheus.CounterVec
	LifecycleOps     *prometheus.CounterVec
	NotesPurged      prometheus.Counter
}

// NewMetrics creates a new metrics instance
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: serviceName,
				Name:      "requests_total",
				Help:      "Total number of requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: serviceName,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: serviceName,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
			[]string{"route"},
		),
		ShareLinks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: serviceName,
				Name:      "share_links_total",
				Help:      "Share links by outcome: created, resolved or rejected",
			},
			[]string{"outcome"},
		),
		LifecycleOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: serviceName,
				Name:      "lifecycle_ops_total",
				Help:      "Applied note lifecycle transitions",
			},
			[]string{"op"},
		),
		NotesPurged: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: serviceName,
				Name:      "notes_purged_total",
				Help:      "Notes physically deleted after their destruct deadline",
			},
		),
	}
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) InFlight(route string, delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.WithLabelValues(route).Add(delta)
}

func (m *Metrics) ShareLink(outcome string) {
	if m == nil {
		return
	}
	m.ShareLinks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LifecycleOp(op string) {
	if m == nil {
		return
	}
	m.LifecycleOps.WithLabelValues(op).Inc()
}

func (m *Metrics) NotePurged() {
	if m == nil {
		return
	}
	m.NotesPurged.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
