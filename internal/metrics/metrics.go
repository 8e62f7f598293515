// Package metrics exposes the Prometheus collectors for CAMS.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the application collectors behind a private registry so
// tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	connectionTests    *prometheus.CounterVec
	connectionTestTime prometheus.Histogram

	schedulerSweeps    prometheus.Counter
	schedulerSweepTime prometheus.Histogram
	schedulerDueApps   prometheus.Gauge

	importRecords *prometheus.CounterVec
	importJobs    *prometheus.CounterVec

	wsClients prometheus.Gauge
}

// New creates and registers all CAMS collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cams",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cams",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cams",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		connectionTests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cams",
			Subsystem: "connections",
			Name:      "tests_total",
			Help:      "Total number of connection tests executed.",
		}, []string{"status"}),
		connectionTestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cams",
			Subsystem: "connections",
			Name:      "test_duration_seconds",
			Help:      "Duration of connection tests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		schedulerSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cams",
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total number of scheduler sweeps.",
		}),
		schedulerSweepTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cams",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduler sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		schedulerDueApps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cams",
			Subsystem: "scheduler",
			Name:      "due_applications",
			Help:      "Applications due for testing at the last sweep.",
		}),
		importRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cams",
			Subsystem: "imports",
			Name:      "records_total",
			Help:      "Total number of bulk-import records processed.",
		}, []string{"section", "outcome"}),
		importJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cams",
			Subsystem: "imports",
			Name:      "jobs_total",
			Help:      "Total number of bulk-import jobs by final status.",
		}, []string{"status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cams",
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.connectionTests,
		m.connectionTestTime,
		m.schedulerSweeps,
		m.schedulerSweepTime,
		m.schedulerDueApps,
		m.importRecords,
		m.importJobs,
		m.wsClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records counters and duration for a completed request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordConnectionTest records the outcome of one connection test.
func (m *Metrics) RecordConnectionTest(passed bool, duration time.Duration) {
	status := "failed"
	if passed {
		status = "passed"
	}
	m.connectionTests.WithLabelValues(status).Inc()
	m.connectionTestTime.Observe(duration.Seconds())
}

// RecordSweep records one scheduler sweep.
func (m *Metrics) RecordSweep(due int, duration time.Duration) {
	m.schedulerSweeps.Inc()
	m.schedulerDueApps.Set(float64(due))
	m.schedulerSweepTime.Observe(duration.Seconds())
}

// RecordImportRecord counts a processed bulk-import record.
func (m *Metrics) RecordImportRecord(section string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "imported"
	}
	m.importRecords.WithLabelValues(section, outcome).Inc()
}

// RecordImportJob counts a finished bulk-import job.
func (m *Metrics) RecordImportJob(status string) {
	m.importJobs.WithLabelValues(status).Inc()
}

// WSClientConnected adjusts the connected-clients gauge.
func (m *Metrics) WSClientConnected(delta int) {
	m.wsClients.Add(float64(delta))
}
