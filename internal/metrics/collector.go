package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes migration metrics
type Collector struct {
	registry        *prometheus.Registry
	itemsTotal      *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_items_total",
				Help: "Total number of items processed",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "migrate_bytes_total",
				Help: "Total bytes copied to the archive",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "migrate_inflight_workers",
				Help: "Number of workers currently processing",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "migrate_item_duration_seconds",
				Help:    "Time taken to migrate one item",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(c.itemsTotal)
	c.registry.MustRegister(c.bytesTotal)
	c.registry.MustRegister(c.inflightWorkers)
	c.registry.MustRegister(c.duration)

	return c
}

// IncMigrated increments the migrated item counter
func (c *Collector) IncMigrated(bytes int64) {
	c.itemsTotal.WithLabelValues("migrated").Inc()
	c.bytesTotal.Add(float64(bytes))
}

// IncFailed increments the failed item counter
func (c *Collector) IncFailed() {
	c.itemsTotal.WithLabelValues("failed").Inc()
}

// WorkerStarted marks one more worker in flight
func (c *Collector) WorkerStarted() {
	c.inflightWorkers.Inc()
}

// WorkerFinished marks one fewer worker in flight
func (c *Collector) WorkerFinished() {
	c.inflightWorkers.Dec()
}

// ObserveDuration observes one item's migration duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
