// Package metrics exposes daemon metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xtxerr/tracelens/internal/share/store"
)

const namespace = "tracelens"

// Metrics holds the daemon collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	traces       *prometheus.CounterVec
	records      prometheus.Counter
	dropped      prometheus.Counter
	uploadBytes  prometheus.Counter
	authFailures prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Number of HTTP requests.",
			},
			[]string{ // labels
				"route",
				"code",
			},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_ms",
				Help:      "The latency of HTTP requests in ms.",

				// 24 buckets: [0.5ms, 1ms, ..., 4194s, +Inf]
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 24),
			},
			[]string{"route"},
		),
		traces: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traces_analyzed_total",
				Help:      "Number of analyzed traces by outcome.",
			},
			[]string{"status"},
		),
		records: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Number of trace records analyzed.",
			},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_lines_total",
				Help:      "Number of malformed trace lines dropped.",
			},
		),
		uploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Number of trace bytes uploaded for sharing.",
			},
		),
		authFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Number of requests rejected for a bad auth key.",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.traces,
		m.records,
		m.dropped,
		m.uploadBytes,
		m.authFailures,
	)
	return m
}

// Registry returns the registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a finished request.
func (m *Metrics) ObserveRequest(route string, code int, start time.Time) {
	m.requests.With(
		prometheus.Labels{
			"route": route,
			"code":  strconv.Itoa(code),
		},
	).Inc()
	m.latency.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

// ObserveTrace records an analyzed trace.
func (m *Metrics) ObserveTrace(status string, records, dropped int) {
	m.traces.WithLabelValues(status).Inc()
	m.records.Add(float64(records))
	m.dropped.Add(float64(dropped))
}

// AddUploadBytes records uploaded trace bytes.
func (m *Metrics) AddUploadBytes(n int64) {
	m.uploadBytes.Add(float64(n))
}

// AuthFailure records a rejected auth key.
func (m *Metrics) AuthFailure() {
	m.authFailures.Inc()
}

// RegisterStore exports the statistics of a share store.
func (m *Metrics) RegisterStore(s *store.Store) {
	stat := func(f func(store.Stats) int64) func() float64 {
		return func() float64 { return float64(f(s.Stats())) }
	}

	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "puts_total",
			Help: "Number of stored traces.",
		}, stat(func(st store.Stats) int64 { return st.Puts })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "deduplicated_total",
			Help: "Number of stored traces whose content was already present.",
		}, stat(func(st store.Stats) int64 { return st.Deduplicated })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "deletes_total",
			Help: "Number of deleted shares.",
		}, stat(func(st store.Stats) int64 { return st.Deletes })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "expired_total",
			Help: "Number of shares removed after their TTL.",
		}, stat(func(st store.Stats) int64 { return st.Expired })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bytes_freed_total",
			Help: "Number of blob bytes removed.",
		}, stat(func(st store.Stats) int64 { return st.BytesFreed })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "errors_total",
			Help: "Number of store errors.",
		}, stat(func(st store.Stats) int64 { return st.Errors })),
	)
}
