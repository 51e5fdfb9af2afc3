package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/severity"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

const metricsNamespace = "scanrelay"

// Metrics exposes dashboard scan activity in Prometheus format.
type Metrics struct {
	registry *prometheus.Registry

	scansStarted  *prometheus.CounterVec
	scansFinished *prometheus.CounterVec
	activeScans   prometheus.Gauge
	scanDuration  *prometheus.HistogramVec
	findings      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		scansStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_started_total",
			Help:      "Scans accepted by the dashboard API.",
		}, []string{"mode"}),
		scansFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_finished_total",
			Help:      "Scans that reached a terminal status.",
		}, []string{"mode", "status"}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scans_active",
			Help:      "Scans currently running.",
		}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of finished scans.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"mode"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "findings_total",
			Help:      "Findings reported by completed scans.",
		}, []string{"severity"}),
	}

	registry.MustRegister(m.scansStarted, m.scansFinished, m.activeScans, m.scanDuration, m.findings)
	return m
}

func (m *Metrics) ScanStarted(mode types.ScanMode) {
	m.scansStarted.WithLabelValues(string(mode)).Inc()
	m.activeScans.Inc()
}

func (m *Metrics) ScanFinished(mode types.ScanMode, status types.ScanStatus, duration time.Duration, result *types.ScanResult) {
	m.activeScans.Dec()
	m.scansFinished.WithLabelValues(string(mode), string(status)).Inc()
	m.scanDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())

	if result == nil {
		return
	}
	for level, n := range severity.CountBySeverity(result.Categories) {
		if n > 0 {
			m.findings.WithLabelValues(string(level)).Add(float64(n))
		}
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
