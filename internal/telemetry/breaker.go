package telemetry

import (
	"context"
	"sync"
	"time"

	"caen-hv-bridge/internal/config"
	"caen-hv-bridge/internal/logger"
	"caen-hv-bridge/internal/recovery"
)

// BreakerSink puts a circuit breaker in front of a sink so an unreachable
// database costs one fast error per tick instead of a full client timeout.
type BreakerSink struct {
	sink    Sink
	breaker *recovery.CircuitBreaker

	mu          sync.Mutex
	lastLogTime time.Time
}

// NewBreakerSink wraps sink with a circuit breaker.
func NewBreakerSink(sink Sink, settings config.BreakerSettings) *BreakerSink {
	bs := &BreakerSink{sink: sink}
	bs.breaker = recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{
		MaxFailures:      settings.MaxFailures,
		Timeout:          settings.Timeout,
		HalfOpenMaxTries: settings.HalfOpenMaxTries,
		OnStateChange:    bs.onStateChange,
	})

	logger.LogInfo("🔌 Circuit breaker initialized for sink %s (MaxFailures: %d, Timeout: %s)",
		NameOf(sink), settings.MaxFailures, settings.Timeout)
	return bs
}

func (bs *BreakerSink) Name() string { return NameOf(bs.sink) }

// Write returns an error wrapping recovery.ErrCircuitOpen while the circuit is open.
func (bs *BreakerSink) Write(ctx context.Context, channel int, fields FieldSet, ts time.Time) error {
	err := bs.breaker.Call(func() error {
		return bs.sink.Write(ctx, channel, fields, ts)
	})
	bs.logStatePeriodically()
	return err
}

func (bs *BreakerSink) Close() error {
	return bs.sink.Close()
}

// Stats returns current circuit breaker statistics
func (bs *BreakerSink) Stats() recovery.CircuitBreakerStats {
	return bs.breaker.GetStats()
}

func (bs *BreakerSink) onStateChange(from, to recovery.CircuitState) {
	switch to {
	case recovery.StateOpen:
		logger.LogWarn("🔴 Sink %s circuit: %s -> OPEN, fast-failing writes", bs.Name(), from)
	case recovery.StateHalfOpen:
		logger.LogInfo("🟡 Sink %s circuit: HALF-OPEN (testing recovery)", bs.Name())
	case recovery.StateClosed:
		logger.LogInfo("🟢 Sink %s circuit: CLOSED (normal operation)", bs.Name())
	}
}

// logStatePeriodically reminds about an open circuit at most once per minute.
func (bs *BreakerSink) logStatePeriodically() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if time.Since(bs.lastLogTime) < time.Minute {
		return
	}
	bs.lastLogTime = time.Now()
	if bs.breaker.IsOpen() {
		logger.LogWarn("🔴 Sink %s circuit still OPEN (%s)", bs.Name(), bs.breaker.GetStats())
	}
}
