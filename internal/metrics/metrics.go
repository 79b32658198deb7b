package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for inbound HTTP traffic and feed
// refresh cycles, backed by its own registry.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	feedFetchTotal  *prometheus.CounterVec
	indicatorsTotal prometheus.Gauge
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "threatradar",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threatradar",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threatradar",
		Subsystem: "feeds",
		Name:      "refresh_cycles_total",
		Help:      "Completed refresh cycles by trigger.",
	}, []string{"trigger"})

	refreshDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "threatradar",
		Subsystem: "feeds",
		Name:      "refresh_duration_seconds",
		Help:      "Wall-clock duration of full refresh cycles.",
		Buckets:   prometheus.DefBuckets,
	})

	feedFetchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threatradar",
		Subsystem: "feeds",
		Name:      "fetch_total",
		Help:      "Per-feed fetch attempts by outcome.",
	}, []string{"feed", "outcome"})

	indicatorsTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "threatradar",
		Subsystem: "store",
		Name:      "indicators_total",
		Help:      "Number of unique indicators currently held.",
	})

	for _, c := range []prometheus.Collector{
		requestDuration, requestTotal, refreshTotal, refreshDuration, feedFetchTotal, indicatorsTotal,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	collector := &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		refreshTotal:    refreshTotal,
		refreshDuration: refreshDuration,
		feedFetchTotal:  feedFetchTotal,
		indicatorsTotal: indicatorsTotal,
	}

	return collector, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveRefreshCycle records one completed cycle.
func (c *Collector) ObserveRefreshCycle(trigger string, duration time.Duration) {
	c.refreshTotal.WithLabelValues(trigger).Inc()
	c.refreshDuration.Observe(duration.Seconds())
}

// ObserveFeedFetch records the outcome of a single feed fetch.
func (c *Collector) ObserveFeedFetch(feed string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.feedFetchTotal.WithLabelValues(feed, outcome).Inc()
}

// SetIndicatorCount publishes the current store size.
func (c *Collector) SetIndicatorCount(n int) {
	c.indicatorsTotal.Set(float64(n))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
