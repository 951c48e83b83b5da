package metrics

import "time"

// NullMetrics is a no-op implementation of MetricsCollector.
// Use this when metrics are disabled (http_port = 0).
type NullMetrics struct{}

// NewNullMetrics creates a new NullMetrics instance
func NewNullMetrics() *NullMetrics {
	return &NullMetrics{}
}

func (nm *NullMetrics) ObserveRequest(result string, duration time.Duration) {}
func (nm *NullMetrics) IncrementReconnects()                                 {}
func (nm *NullMetrics) SetConnectionUp(up bool)                              {}
func (nm *NullMetrics) ObserveTick(result string, duration time.Duration)    {}
func (nm *NullMetrics) IncrementMissingField(field string)                   {}
func (nm *NullMetrics) IncrementSinkWrites(result string)                    {}
func (nm *NullMetrics) SetDeviceOnline(online bool)                          {}

// Compile-time verification that NullMetrics implements MetricsCollector
var _ MetricsCollector = (*NullMetrics)(nil)
