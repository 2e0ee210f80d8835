// Package metrics provides Prometheus collectors for an ingestion run.
//
// A run is a short-lived batch process, so nothing is served over HTTP.
// Instead the collector owns its own registry and can push the final values
// to a Prometheus Pushgateway when one is configured.
//
// # Basic Usage
//
//	collector := metrics.NewCollector("acled-bq")
//
//	timer := metrics.NewTimer()
//	page, err := src.Fetch(ctx, cursor, limit)
//	collector.ObserveFetch(timer.Stop(), err)
//
//	collector.RecordBatch(len(page.Records))
//
//	if err := collector.Push(ctx, pushURL); err != nil {
//	    log.Warn("metrics push failed", zap.Error(err))
//	}
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "acled_ingest"

// Collector holds the metrics recorded by one ingestion run.
type Collector struct {
	job      string
	registry *prometheus.Registry

	recordsUploaded prometheus.Counter
	batchesLoaded   prometheus.Counter
	fetchLatency    *prometheus.HistogramVec
	loadLatency     *prometheus.HistogramVec
	lastOutcome     *prometheus.GaugeVec
	lastRunSeconds  prometheus.Gauge
	startTime       time.Time
}

// NewCollector creates a collector with a fresh registry. The job name is used
// as the Pushgateway grouping key.
func NewCollector(job string) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		job:      job,
		registry: reg,
		recordsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_uploaded_total",
			Help:      "Records committed to the destination table",
		}),
		batchesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_loaded_total",
			Help:      "Load jobs that completed successfully",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Source request latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"status"}),
		loadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Load job latency from submission to terminal state",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		lastOutcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_outcome",
			Help:      "1 for the outcome of the last run, 0 otherwise",
		}, []string{"outcome"}),
		lastRunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		startTime: time.Now(),
	}

	reg.MustRegister(
		c.recordsUploaded,
		c.batchesLoaded,
		c.fetchLatency,
		c.loadLatency,
		c.lastOutcome,
		c.lastRunSeconds,
	)

	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveFetch records one source request.
func (c *Collector) ObserveFetch(d time.Duration, err error) {
	c.fetchLatency.WithLabelValues(statusLabel(err)).Observe(d.Seconds())
}

// ObserveLoad records one load job.
func (c *Collector) ObserveLoad(d time.Duration, err error) {
	c.loadLatency.WithLabelValues(statusLabel(err)).Observe(d.Seconds())
}

// RecordBatch counts a successfully loaded batch of n records.
func (c *Collector) RecordBatch(n int) {
	c.batchesLoaded.Inc()
	c.recordsUploaded.Add(float64(n))
}

// RecordOutcome marks the final outcome of the run and its duration.
func (c *Collector) RecordOutcome(outcome string) {
	c.lastOutcome.Reset()
	c.lastOutcome.WithLabelValues(outcome).Set(1)
	c.lastRunSeconds.Set(time.Since(c.startTime).Seconds())
}

// Push sends every collected metric to the Pushgateway at url. An empty url
// is a no-op.
func (c *Collector) Push(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	return push.New(url, c.job).Gatherer(c.registry).PushContext(ctx)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Timer measures the duration of a single operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a timer that starts immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the time elapsed since the timer was created.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
