package recovery

import (
	"time"
)

// DefaultGracePeriod is how long consecutive errors are tolerated before a
// device is reported offline.
const DefaultGracePeriod = 15 * time.Second

// ErrorRecoveryManager tracks a run of consecutive errors and decides when the
// run has lasted long enough to report the device offline. Not safe for
// concurrent use; callers hold their own lock.
type ErrorRecoveryManager struct {
	consecutiveErrors int
	firstErrorTime    time.Time
	gracePeriod       time.Duration
	reportedOffline   bool
	now               func() time.Time
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &ErrorRecoveryManager{gracePeriod: gracePeriod, now: time.Now}
}

// SetClock replaces the time source.
func (m *ErrorRecoveryManager) SetClock(now func() time.Time) {
	m.now = now
}

// RecordError records an error and returns whether the grace period has expired.
func (m *ErrorRecoveryManager) RecordError() bool {
	m.consecutiveErrors++
	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = m.now()
	}
	return m.now().Sub(m.firstErrorTime) >= m.gracePeriod
}

// RecordSuccess ends the current error run.
func (m *ErrorRecoveryManager) RecordSuccess() {
	m.Reset()
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	return m.consecutiveErrors
}

// ShouldMarkOffline is true once per error run, after the grace period.
func (m *ErrorRecoveryManager) ShouldMarkOffline() bool {
	if m.reportedOffline || m.firstErrorTime.IsZero() {
		return false
	}
	return m.now().Sub(m.firstErrorTime) >= m.gracePeriod
}

// MarkAsOffline records that the offline state has been reported.
func (m *ErrorRecoveryManager) MarkAsOffline() {
	m.reportedOffline = true
}

// IsInGracePeriod returns true while an error run is younger than the grace period.
func (m *ErrorRecoveryManager) IsInGracePeriod() bool {
	if m.firstErrorTime.IsZero() {
		return false
	}
	return m.now().Sub(m.firstErrorTime) < m.gracePeriod
}

// GetTimeSinceFirstError returns the duration since the first error in current run
func (m *ErrorRecoveryManager) GetTimeSinceFirstError() time.Duration {
	if m.firstErrorTime.IsZero() {
		return 0
	}
	return m.now().Sub(m.firstErrorTime)
}

// Reset resets all error tracking state
func (m *ErrorRecoveryManager) Reset() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.reportedOffline = false
}
