package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"caen-hv-bridge/internal/logger"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
	log                 logger.ILogger
}

// DiagnosticPublisher interface for publishing diagnostics
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// NewErrorHandler creates a new error handler. publisher may be nil.
func NewErrorHandler(publisher DiagnosticPublisher) *ErrorHandler {
	return &ErrorHandler{
		diagnosticPublisher: publisher,
		log:                 logger.NewStandardLogger(),
	}
}

// WithLogger replaces the logger, mostly for tests.
func (h *ErrorHandler) WithLogger(l logger.ILogger) *ErrorHandler {
	h.log = l
	return h
}

// SetPublisher wires a diagnostic publisher after construction.
func (h *ErrorHandler) SetPublisher(p DiagnosticPublisher) {
	h.diagnosticPublisher = p
}

// Handle processes an error with appropriate logging and diagnostics
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	switch e := err.(type) {
	case *TransportError:
		h.logBySeverity("Transport", e.Severity, e.Error())
		h.publish(ctx, e.Code, fmt.Sprintf("Device %s: %s", e.Address, e.Op))
	case *ProtocolError:
		h.logBySeverity("Protocol", e.Severity, e.Error())
		h.publish(ctx, e.Code, fmt.Sprintf("Protocol %s: %s", e.Op, e.Raw))
	case *SinkError:
		h.logBySeverity("Sink", e.Severity, e.Error())
		h.publish(ctx, e.Code, fmt.Sprintf("Sink '%s': %s", e.Sink, e.Op))
	case *ConfigError:
		h.log.LogError("🔴 CRITICAL Configuration Error: %s", e.Error())
		h.publish(ctx, e.Code, fmt.Sprintf("Config field '%s': %s", e.Field, e.Op))
	case *ValidationError:
		h.log.LogWarn("⚠️ Validation Error: %s", e.Error())
		h.publish(ctx, e.Code, fmt.Sprintf("Validation failed for '%s'", e.Field))
	case *BridgeError:
		h.logBySeverity("", e.Severity, e.Error())
		h.publish(ctx, e.Code, e.Op)
	default:
		h.log.LogError("❌ Untyped Error: %v", err)
		h.publish(ctx, CodeUnknown, err.Error())
	}
}

func (h *ErrorHandler) logBySeverity(kind string, severity ErrorSeverity, msg string) {
	label := "Error"
	if kind != "" {
		label = kind + " Error"
	}
	switch severity {
	case SeverityCritical:
		h.log.LogError("🔴 CRITICAL %s: %s", label, msg)
	case SeverityError:
		h.log.LogError("❌ %s: %s", label, msg)
	case SeverityWarning:
		h.log.LogWarn("⚠️ %s: %s", label, msg)
	default:
		h.log.LogInfo("ℹ️ %s: %s", label, msg)
	}
}

func (h *ErrorHandler) publish(ctx context.Context, code int, message string) {
	if h.diagnosticPublisher == nil {
		return
	}
	if err := h.diagnosticPublisher.PublishDiagnostic(ctx, code, message); err != nil {
		h.log.LogDebug("Failed to publish diagnostic %d: %v", code, err)
	}
}

// IsRecoverable returns true if the error is recoverable
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	switch e := err.(type) {
	case *ConfigError:
		return false // Config errors are not recoverable
	case *BridgeError:
		return e.Severity != SeverityCritical
	case *TransportError:
		return e.Severity != SeverityCritical
	case *ProtocolError:
		return e.Severity != SeverityCritical
	case *SinkError:
		return e.Severity != SeverityCritical
	default:
		return true // Unknown errors are assumed recoverable
	}
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return CodeRecovered
	}

	var te *TransportError
	var pe *ProtocolError
	var se *SinkError
	var ce *ConfigError
	var ve *ValidationError
	var be *BridgeError
	switch {
	case stderrors.As(err, &te):
		return te.Code
	case stderrors.As(err, &pe):
		return pe.Code
	case stderrors.As(err, &se):
		return se.Code
	case stderrors.As(err, &ce):
		return ce.Code
	case stderrors.As(err, &ve):
		return ve.Code
	case stderrors.As(err, &be):
		return be.Code
	default:
		return CodeUnknown
	}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return stderrors.As(err, &te)
}
