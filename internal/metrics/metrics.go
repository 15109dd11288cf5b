// Package metrics exposes Prometheus instrumentation for span fetches and view sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one registry. It implements tracetree.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	SharedFetches prometheus.Counter
	OpenViews     prometheus.Gauge
	Operations    *prometheus.CounterVec
}

// New registers the traceview collectors, plus the Go and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "traceview_span_fetches_total",
			Help: "Span fetches issued by zoom-ins, by result.",
		}, []string{"result"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "traceview_span_fetch_duration_seconds",
			Help:    "Latency of span fetches issued by zoom-ins.",
			Buckets: prometheus.DefBuckets,
		}),
		SharedFetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "traceview_span_fetches_shared_total",
			Help: "Zoom-ins that joined a fetch already in flight.",
		}),
		OpenViews: factory.NewGauge(prometheus.GaugeOpts{
			Name: "traceview_open_views",
			Help: "View sessions currently held in memory.",
		}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "traceview_view_operations_total",
			Help: "Operations applied to view sessions.",
		}, []string{"operation"}),
	}
}

// ObserveFetch records one issued fetch.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Fetches.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

// ObserveSharedFetch records a zoom-in that reused an in-flight fetch.
func (m *Metrics) ObserveSharedFetch() {
	m.SharedFetches.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
