package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"caen-hv-bridge/internal/logger"
)

// Sink persists one field set. The sampler calls Write sequentially, never
// overlapping with itself.
type Sink interface {
	Write(ctx context.Context, channel int, fields FieldSet, ts time.Time) error
	Close() error
}

// Named is implemented by sinks that have a human readable name.
type Named interface {
	Name() string
}

// NameOf returns the sink name used in logs and errors.
func NameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// MultiSink writes to every sink in order and joins their errors.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = NameOf(s)
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Write continues with the remaining sinks when one fails.
func (m *MultiSink) Write(ctx context.Context, channel int, fields FieldSet, ts time.Time) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, channel, fields, ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink logs each field set at info level. Used when no external sink is configured.
type LogSink struct {
	log logger.ILogger
}

// NewLogSink creates a log-only sink; a nil logger uses the global one.
func NewLogSink(l logger.ILogger) *LogSink {
	if l == nil {
		l = logger.NewStandardLogger()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, channel int, fields FieldSet, ts time.Time) error {
	present := fields.Present()
	keys := make([]string, 0, len(present))
	for k := range present {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, present[k])
	}
	s.log.LogInfo("📊 ch%d %s %s", channel, ts.Format(time.RFC3339), b.String())
	if missing := fields.Missing(); len(missing) > 0 {
		s.log.LogDebug("ch%d missing: %s", channel, strings.Join(missing, ","))
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
