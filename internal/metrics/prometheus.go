package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caen"

// PrometheusMetrics exposes the bridge metrics through client_golang.
// Collectors live on a private registry so several instances (tests) can coexist.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	reconnectsTotal prometheus.Counter
	connectionUp    prometheus.Gauge
	ticksTotal      *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	missingFields   *prometheus.CounterVec
	sinkWritesTotal *prometheus.CounterVec
	deviceOnline    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Device requests by result.",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Device request latency including the retry.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnects performed by the retry path.",
		}),
		connectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 while the device socket is open.",
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Sampler ticks by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent reading one field set.",
			Buckets:   prometheus.DefBuckets,
		}),
		missingFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_fields_total",
			Help:      "Fields absent from a tick, by field.",
		}, []string{"field"}),
		sinkWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Telemetry sink writes by result.",
		}, []string{"result"}),
		deviceOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_online",
			Help:      "1 while the device is considered online.",
		}),
	}

	pm.registry.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.reconnectsTotal,
		pm.connectionUp,
		pm.ticksTotal,
		pm.tickDuration,
		pm.missingFields,
		pm.sinkWritesTotal,
		pm.deviceOnline,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pm.deviceOnline.Set(1)
	return pm
}

// Registry returns the private registry, mainly for tests.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

func (pm *PrometheusMetrics) ObserveRequest(result string, duration time.Duration) {
	pm.requestsTotal.WithLabelValues(result).Inc()
	pm.requestDuration.Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) IncrementReconnects() {
	pm.reconnectsTotal.Inc()
}

func (pm *PrometheusMetrics) SetConnectionUp(up bool) {
	pm.connectionUp.Set(boolToFloat(up))
}

func (pm *PrometheusMetrics) ObserveTick(result string, duration time.Duration) {
	pm.ticksTotal.WithLabelValues(result).Inc()
	pm.tickDuration.Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) IncrementMissingField(field string) {
	pm.missingFields.WithLabelValues(field).Inc()
}

func (pm *PrometheusMetrics) IncrementSinkWrites(result string) {
	pm.sinkWritesTotal.WithLabelValues(result).Inc()
}

func (pm *PrometheusMetrics) SetDeviceOnline(online bool) {
	pm.deviceOnline.Set(boolToFloat(online))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
