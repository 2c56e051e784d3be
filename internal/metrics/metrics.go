// Package metrics holds the Prometheus collectors exported by the service.
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

// Registry owns a private Prometheus registry and every collector the
// service records into.
type Registry struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	CompilationsTotal     *prometheus.CounterVec
	CompiledOutputs       prometheus.Histogram
	EdgeRejectionsTotal   *prometheus.CounterVec
	PresetOperationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with all collectors initialized, plus the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{registry: reg}
	r.initHTTPMetrics()
	r.initUpstreamMetrics()
	r.initCompilerMetrics()
	return r
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	r.HTTPRequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxflow_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)
}

func (r *Registry) initUpstreamMetrics() {
	r.UpstreamRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxflow_upstream_requests_total",
			Help: "Total number of calls made to the upstream dashboard service",
		},
		[]string{"op", "status"},
	)

	r.UpstreamRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxflow_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)
}

func (r *Registry) initCompilerMetrics() {
	r.CompilationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxflow_compilations_total",
			Help: "Total number of graph compilations",
		},
		[]string{"status"},
	)

	r.CompiledOutputs = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxflow_compiled_outputs",
			Help:    "Number of scripts produced per compilation",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
	)

	r.EdgeRejectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxflow_edge_rejections_total",
			Help: "Total number of rejected edge proposals by reason",
		},
		[]string{"reason"},
	)

	r.PresetOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxflow_preset_operations_total",
			Help: "Total number of preset store operations",
		},
		[]string{"operation", "status"},
	)
}

// RecordHTTPRequest records an HTTP request with its duration.
func (r *Registry) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream call. Status 0 means the call never
// got a response.
func (r *Registry) ObserveUpstream(op string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.UpstreamRequestsTotal.WithLabelValues(op, label).Inc()
	r.UpstreamRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordCompilation records a compile request and how many scripts it
// produced.
func (r *Registry) RecordCompilation(status string, outputs int) {
	r.CompilationsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		r.CompiledOutputs.Observe(float64(outputs))
	}
}

// RecordEdgeRejection counts an edge proposal refused for reason.
func (r *Registry) RecordEdgeRejection(reason string) {
	r.EdgeRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordPresetOperation counts a preset store call.
func (r *Registry) RecordPresetOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.PresetOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and scrapers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
