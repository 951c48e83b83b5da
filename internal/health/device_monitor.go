package health

import (
	"sync"
	"time"

	"caen-hv-bridge/internal/recovery"
)

// DeviceMonitor tracks whether the power supply answers and decides, through
// the grace period of an ErrorRecoveryManager, when it is reported offline.
type DeviceMonitor struct {
	isOnline        bool
	lastErrorTime   time.Time
	lastSuccessTime time.Time
	successCount    int64
	errorCount      int64
	errorManager    *recovery.ErrorRecoveryManager
	mu              sync.RWMutex
}

// NewDeviceMonitor creates a monitor that starts online.
func NewDeviceMonitor(gracePeriod time.Duration) *DeviceMonitor {
	return &DeviceMonitor{
		isOnline:     true,
		errorManager: recovery.NewErrorRecoveryManager(gracePeriod),
	}
}

// IsOnline returns whether the device is currently marked as online
func (m *DeviceMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOnline
}

// RecordSuccess records an answered tick. It returns true when the device
// was offline before, i.e. it just recovered.
func (m *DeviceMonitor) RecordSuccess() (recovered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recovered = !m.isOnline
	m.errorManager.RecordSuccess()
	m.isOnline = true
	m.successCount++
	m.lastSuccessTime = time.Now()
	return recovered
}

// RecordError records a failed tick and returns whether the device should now
// be marked offline. It returns true at most once per error run.
func (m *DeviceMonitor) RecordError() (shouldMarkOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErrorTime = time.Now()
	m.errorCount++
	m.errorManager.RecordError()
	return m.errorManager.ShouldMarkOffline()
}

// MarkOffline marks the device offline.
func (m *DeviceMonitor) MarkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isOnline = false
	m.errorManager.MarkAsOffline()
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *DeviceMonitor) GetConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetConsecutiveErrors()
}

// GetLastErrorTime returns the time of the last error
func (m *DeviceMonitor) GetLastErrorTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErrorTime
}

// GetLastSuccessTime returns the time of the last answered tick
func (m *DeviceMonitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccessTime
}

// GetSuccessCount returns the number of answered ticks
func (m *DeviceMonitor) GetSuccessCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successCount
}

// GetErrorCount returns the number of failed ticks
func (m *DeviceMonitor) GetErrorCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorCount
}

// IsInGracePeriod returns true if currently in error grace period
func (m *DeviceMonitor) IsInGracePeriod() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.IsInGracePeriod()
}

// GetTimeSinceFirstError returns duration since first error in current run
func (m *DeviceMonitor) GetTimeSinceFirstError() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetTimeSinceFirstError()
}
