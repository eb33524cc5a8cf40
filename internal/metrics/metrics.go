// Package metrics exposes Prometheus collectors for container reads.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "tensorbuffers"

	resultOK    = "ok"
	resultError = "error"
)

// Metrics owns a registry with the collectors used by sources, the payload
// cache and the HTTP server. It implements tbuf.RangeObserver.
type Metrics struct {
	registry *prometheus.Registry

	rangeReads    *prometheus.CounterVec
	rangeBytes    prometheus.Counter
	rangeDuration prometheus.Histogram
	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
}

// New registers a fresh set of collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rangeReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "range_reads_total",
				Help:      "Range reads issued against a container source. Broken down by result.",
			},
			[]string{"result"},
		),
		rangeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "range_read_bytes_total",
			Help:      "Bytes returned by successful range reads.",
		}),
		rangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "range_read_duration_seconds",
			Help:      "Latency of range reads, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tensor",
				Name:      "fetches_total",
				Help:      "Tensor payload fetches. Broken down by whether the payload cache served them.",
			},
			[]string{"cache"},
		),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tensor",
			Name:      "fetch_bytes_total",
			Help:      "Payload bytes handed out to callers.",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests served. Broken down by route and status code.",
			},
			[]string{"route", "code"},
		),
		requestTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	m.registry.MustRegister(
		m.rangeReads,
		m.rangeBytes,
		m.rangeDuration,
		m.fetches,
		m.fetchBytes,
		m.requests,
		m.requestTime,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRange records one logical range read.
func (m *Metrics) ObserveRange(n int64, d time.Duration, err error) {
	m.rangeDuration.Observe(d.Seconds())
	if err != nil {
		m.rangeReads.WithLabelValues(resultError).Inc()
		return
	}
	m.rangeReads.WithLabelValues(resultOK).Inc()
	m.rangeBytes.Add(float64(n))
}

// ObserveFetch records a tensor payload fetch.
func (m *Metrics) ObserveFetch(n int, cached bool) {
	label := "miss"
	if cached {
		label = "hit"
	}
	m.fetches.WithLabelValues(label).Inc()
	m.fetchBytes.Add(float64(n))
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestTime.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
