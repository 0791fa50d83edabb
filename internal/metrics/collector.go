// Package metrics counts requests, retries, skips and imported rows and
// persists them in the Prometheus text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector collects run metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	retriesTotal    prometheus.Counter
	rateLimited     prometheus.Counter
	entitiesTotal   *prometheus.CounterVec
	documentsTotal  *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	rowsTotal       *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmigrate_requests_total",
				Help: "Source API requests by outcome",
			},
			[]string{"status"},
		),
		requestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tgmigrate_request_duration_seconds",
				Help:    "Source API request latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tgmigrate_retries_total",
				Help: "Request attempts retried after a failure",
			},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tgmigrate_rate_limited_total",
				Help: "Responses with HTTP 429",
			},
		),
		entitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmigrate_entities_total",
				Help: "Extracted entities by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmigrate_documents_total",
				Help: "Document downloads by outcome",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tgmigrate_document_bytes_total",
				Help: "Total document bytes downloaded",
			},
		),
		rowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmigrate_rows_total",
				Help: "Imported rows by table and outcome",
			},
			[]string{"table", "status"},
		),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.retriesTotal,
		c.rateLimited,
		c.entitiesTotal,
		c.documentsTotal,
		c.bytesTotal,
		c.rowsTotal,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest records one completed request with its HTTP status.
func (c *Collector) ObserveRequest(status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(statusClass(status)).Inc()
	c.requestDuration.Observe(d.Seconds())
}

// IncRetry counts a retried attempt.
func (c *Collector) IncRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

// IncRateLimited counts a 429 response.
func (c *Collector) IncRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// IncEntity counts an extracted entity. status is "ok", "skipped" or "failed".
func (c *Collector) IncEntity(kind, status string) {
	if c == nil {
		return
	}
	c.entitiesTotal.WithLabelValues(kind, status).Inc()
}

// IncDocument counts a document download. Successful downloads add bytes.
func (c *Collector) IncDocument(ok bool, bytes int64) {
	if c == nil {
		return
	}
	if !ok {
		c.documentsTotal.WithLabelValues("failed").Inc()
		return
	}
	c.documentsTotal.WithLabelValues("ok").Inc()
	c.bytesTotal.Add(float64(bytes))
}

// AddRows adds n rows for table. status is "inserted", "skipped" or "failed".
func (c *Collector) AddRows(table, status string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsTotal.WithLabelValues(table, status).Add(float64(n))
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status == 429:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
