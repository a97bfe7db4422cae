// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the reminder service and the
// HTTP layer.
type Recorder interface {
	RecordReminderCreated()
	RecordReminderDeleted()
	RecordExport(source string)
	RecordExportFailure(kind string)
	RecordImport(imported, skipped int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(route string, d time.Duration)
}

// Export sources.
const (
	SourceStored = "stored"
	SourceAdHoc  = "adhoc"
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	remindersCreated prometheus.Counter
	remindersDeleted prometheus.Counter
	exports          *prometheus.CounterVec
	exportFailures   *prometheus.CounterVec
	imported         prometheus.Counter
	importSkipped    prometheus.Counter
	httpStatus       *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remindersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcal_reminders_created_total",
			Help: "Reminders created.",
		}),
		remindersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcal_reminders_deleted_total",
			Help: "Reminders deleted.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcal_calendar_exports_total",
			Help: "Calendar files rendered, by source.",
		}, []string{"source"}),
		exportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcal_calendar_export_failures_total",
			Help: "Failed calendar exports, by error kind.",
		}, []string{"kind"}),
		imported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcal_import_events_total",
			Help: "Calendar events imported as reminders.",
		}),
		importSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcal_import_skipped_total",
			Help: "Calendar events skipped during import.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcal_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawcal_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.remindersCreated,
		c.remindersDeleted,
		c.exports,
		c.exportFailures,
		c.imported,
		c.importSkipped,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

func (c *Collector) RecordReminderCreated() { c.remindersCreated.Inc() }

func (c *Collector) RecordReminderDeleted() { c.remindersDeleted.Inc() }

// RecordExport counts a rendered calendar file.
func (c *Collector) RecordExport(source string) {
	c.exports.WithLabelValues(source).Inc()
}

// RecordExportFailure counts a failed export by apperr kind.
func (c *Collector) RecordExportFailure(kind string) {
	c.exportFailures.WithLabelValues(kind).Inc()
}

// RecordImport counts the outcome of one import request.
func (c *Collector) RecordImport(imported, skipped int) {
	c.imported.Add(float64(imported))
	c.importSkipped.Add(float64(skipped))
}

// RecordHTTPStatus counts a response by status code.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency observes one request's duration under its route
// pattern.
func (c *Collector) RecordRequestLatency(route string, d time.Duration) {
	c.requestLatency.WithLabelValues(route).Observe(d.Seconds())
}

// Nop discards everything. Used when metrics are not wired.
type Nop struct{}

func (Nop) RecordReminderCreated()                     {}
func (Nop) RecordReminderDeleted()                     {}
func (Nop) RecordExport(string)                        {}
func (Nop) RecordExportFailure(string)                 {}
func (Nop) RecordImport(int, int)                      {}
func (Nop) RecordHTTPStatus(int)                       {}
func (Nop) RecordRequestLatency(string, time.Duration) {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
