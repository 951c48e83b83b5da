package metrics

import "time"

// Result labels used by the collectors.
const (
	ResultOK        = "ok"
	ResultError     = "error"     // device answered with #ERR or garbage
	ResultTransport = "transport" // no answer after the retry
	ResultFailed    = "failed"
	ResultRejected  = "rejected" // circuit breaker open
)

// MetricsCollector defines the interface for collecting application metrics.
//
// Implementations:
//   - PrometheusMetrics: client_golang collectors on a private registry
//   - NullMetrics: no-op implementation when metrics are disabled
type MetricsCollector interface {
	// ObserveRequest records one Device Connection request and its outcome
	ObserveRequest(result string, duration time.Duration)

	// IncrementReconnects counts a reconnect performed by the retry path
	IncrementReconnects()

	// SetConnectionUp reports whether the device socket is open
	SetConnectionUp(up bool)

	// ObserveTick records one sampler tick and its outcome
	ObserveTick(result string, duration time.Duration)

	// IncrementMissingField counts a field that was absent from a tick
	IncrementMissingField(field string)

	// IncrementSinkWrites counts a telemetry sink write by outcome
	IncrementSinkWrites(result string)

	// SetDeviceOnline reports the health monitor's verdict
	SetDeviceOnline(online bool)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector
var _ MetricsCollector = (*PrometheusMetrics)(nil)
