package httpapi

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one Server. Each Server owns its
// registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	jobs         prometheus.Counter
	sweeps       *prometheus.CounterVec
	encounters   *prometheus.GaugeVec
	groups       *prometheus.GaugeVec
}

// NewMetrics registers the collectors. clients reports the number of
// connected websocket observers.
func NewMetrics(clients func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepsim_http_requests_total",
			Help: "HTTP requests by route template and status code.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sweepsim_http_request_duration_seconds",
			Help:    "HTTP request latency by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		jobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepsim_jobs_finished_total",
			Help: "Encounter jobs that reached a terminal state.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepsim_sweeps_total",
			Help: "Finished sweeps by outcome (completed or cancelled).",
		}, []string{"outcome"}),
		encounters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sweepsim_encounters",
			Help: "Result store entries by status after the last sweep.",
		}, []string{"status"}),
		groups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sweepsim_groups",
			Help: "Group records by outcome after the last sweep.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.httpRequests,
		m.httpDuration,
		m.jobs,
		m.sweeps,
		m.encounters,
		m.groups,
	)
	if clients != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sweepsim_websocket_clients",
			Help: "Connected websocket observers.",
		}, func() float64 { return float64(clients()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency under the matched route
// template, so /api/sweeps/{id} is one series rather than one per sweep.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		snoop := httpsnoop.CaptureMetrics(next, w, r)
		if m == nil {
			return
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(snoop.Code)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(snoop.Duration.Seconds())
	})
}

// JobFinished counts one terminal job.
func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobs.Inc()
}

// SweepFinished records the outcome of a sweep and the store totals it left.
func (m *Metrics) SweepFinished(c scheduler.Completion) {
	if m == nil {
		return
	}
	outcome := "completed"
	if c.Cancelled {
		outcome = "cancelled"
	}
	m.sweeps.WithLabelValues(outcome).Inc()

	counts := c.Snapshot.Counts()
	for _, st := range []models.Status{models.StatusNotRun, models.StatusQueued, models.StatusSuccess, models.StatusFailed} {
		m.encounters.WithLabelValues(string(st)).Set(float64(counts[st]))
	}

	var ok, failed int
	for _, g := range c.Snapshot.Groups {
		if g.Telemetry.SimSuccess {
			ok++
		} else {
			failed++
		}
	}
	m.groups.WithLabelValues("success").Set(float64(ok))
	m.groups.WithLabelValues("failed").Set(float64(failed))
}
