package errors

import (
	"fmt"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Diagnostic codes published alongside errors
const (
	CodeConfig     = 1
	CodeTransport  = 2
	CodeProtocol   = 3
	CodeSink       = 4
	CodeValidation = 5
	CodeRecovered  = 0
	CodeOK         = 0 // heartbeat, nothing to report
	CodeUnknown    = 99
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// BridgeError is the base error type for all bridge errors
type BridgeError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// TransportError is returned by the device connection once the single retry
// has been spent (or when the gate could not be acquired).
type TransportError struct {
	BridgeError
	Address  string
	Attempts int
}

// NewTransportError creates a new transport error
func NewTransportError(op string, err error, address string, attempts int) *TransportError {
	return &TransportError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeTransport,
		},
		Address:  address,
		Attempts: attempts,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] device %s (attempts %d): %s: %v",
		e.Severity, e.Address, e.Attempts, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError describes a reply the device answered with ok=false.
type ProtocolError struct {
	BridgeError
	Raw string
}

// NewProtocolError creates a new protocol error for a raw reply line
func NewProtocolError(op string, reason string, raw string) *ProtocolError {
	return &ProtocolError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      fmt.Errorf("%s", reason),
			Severity: SeverityWarning,
			Code:     CodeProtocol,
		},
		Raw: raw,
	}
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("[%s] protocol %s: %v (raw %q)", e.Severity, e.Op, e.Err, e.Raw)
	}
	return fmt.Sprintf("[%s] protocol %s: %v", e.Severity, e.Op, e.Err)
}

// SinkError represents a failed telemetry write
type SinkError struct {
	BridgeError
	Sink    string
	Channel int
}

// NewSinkError creates a new sink error
func NewSinkError(op string, err error, sink string, channel int) *SinkError {
	return &SinkError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeSink,
		},
		Sink:    sink,
		Channel: channel,
	}
}

// Error implements the error interface
func (e *SinkError) Error() string {
	return fmt.Sprintf("[%s] sink '%s' (ch %d): %s: %v",
		e.Severity, e.Sink, e.Channel, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *SinkError) Unwrap() error {
	return e.Err
}

// ConfigError represents configuration errors
type ConfigError struct {
	BridgeError
	Field string
	Value interface{}
}

// NewConfigError creates a new configuration error
func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityCritical, // Config errors are critical
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] Configuration field '%s': %s: %v",
			e.Severity, e.Field, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Configuration: %s: %v",
		e.Severity, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError represents validation errors
type ValidationError struct {
	BridgeError
	Field    string
	Expected interface{}
	Actual   interface{}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, expected, actual interface{}) *ValidationError {
	return &ValidationError{
		BridgeError: BridgeError{
			Op:       "validation",
			Err:      fmt.Errorf("validation failed"),
			Severity: SeverityWarning,
			Code:     CodeValidation,
		},
		Field:    field,
		Expected: expected,
		Actual:   actual,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Field '%s': expected %v, got %v",
		e.Severity, e.Field, e.Expected, e.Actual)
}
