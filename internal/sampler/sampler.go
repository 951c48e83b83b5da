// Package sampler runs the periodic read sequence against the power supply
// and forwards each field set to a telemetry sink.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "caen-hv-bridge/internal/errors"
	"caen-hv-bridge/internal/health"
	"caen-hv-bridge/internal/logger"
	"caen-hv-bridge/internal/metrics"
	"caen-hv-bridge/internal/protocol"
	"caen-hv-bridge/internal/recovery"
	"caen-hv-bridge/internal/telemetry"
)

const summaryInterval = 30 * time.Second

// Reader performs one MON read. *device.Client satisfies it.
type Reader interface {
	Monitor(ctx context.Context, channel int, par protocol.Param) (protocol.Reply, error)
}

// StatusPublisher announces availability changes of the device.
type StatusPublisher interface {
	PublishStatusOnline(ctx context.Context) error
	PublishStatusOffline(ctx context.Context) error
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// Config is the initial sampling configuration.
type Config struct {
	Channel int
	Period  time.Duration
}

// Stats is a snapshot of the sampler counters.
type Stats struct {
	Ticks        int64
	FailedTicks  int64
	SinkFailures int64
	LastTick     time.Time
	LastSuccess  time.Time
}

// Sampler is Idle until Start and Running until Stop. Channel and period may
// be changed in either state; the loop picks them up at the next tick.
type Sampler struct {
	reader     Reader
	sink       telemetry.Sink
	log        logger.ILogger
	metrics    metrics.MetricsCollector
	health     *health.DeviceMonitor
	status     StatusPublisher
	errHandler *apperrors.ErrorHandler

	channel atomic.Int64
	period  atomic.Int64

	// lifecycle serializes Start and Stop; mu only guards cancel and done
	// so Running never waits for a loop to wind down.
	lifecycle sync.Mutex
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	statsMu     sync.Mutex
	stats       Stats
	okTicks     int
	failedTicks int
	lastSummary time.Time
}

// Option configures a Sampler.
type Option func(*Sampler)

func WithLogger(l logger.ILogger) Option {
	return func(s *Sampler) { s.log = l }
}

func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithHealth feeds tick outcomes into a device monitor.
func WithHealth(h *health.DeviceMonitor) Option {
	return func(s *Sampler) { s.health = h }
}

// WithStatusPublisher publishes online/offline transitions decided by the health monitor.
func WithStatusPublisher(p StatusPublisher) Option {
	return func(s *Sampler) { s.status = p }
}

func WithErrorHandler(h *apperrors.ErrorHandler) Option {
	return func(s *Sampler) { s.errHandler = h }
}

// New creates an idle sampler.
func New(cfg Config, reader Reader, sink telemetry.Sink, opts ...Option) (*Sampler, error) {
	s := &Sampler{
		reader:      reader,
		sink:        sink,
		log:         logger.NewStandardLogger(),
		metrics:     metrics.NewNullMetrics(),
		lastSummary: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errHandler == nil {
		s.errHandler = apperrors.NewErrorHandler(nil).WithLogger(s.log)
	}
	if err := s.SetChannel(cfg.Channel); err != nil {
		return nil, err
	}
	if err := s.SetPeriod(cfg.Period); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sampler) Channel() int { return int(s.channel.Load()) }

// SetChannel changes the channel read by the next tick.
func (s *Sampler) SetChannel(ch int) error {
	if ch < 0 {
		return apperrors.NewValidationError("channel", ">= 0", ch)
	}
	s.channel.Store(int64(ch))
	return nil
}

func (s *Sampler) Period() time.Duration { return time.Duration(s.period.Load()) }

// SetPeriod changes the cadence from the next tick boundary on.
func (s *Sampler) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return apperrors.NewValidationError("period", "> 0", d)
	}
	s.period.Store(int64(d))
	return nil
}

// Running reports whether the loop goroutine is alive.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Sampler) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start launches the loop. It returns false if the loop was already running.
// The loop also ends when ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(loopCtx, done)
	return true
}

// Stop cancels the loop and waits for it to exit. A request already on the
// wire completes first. It returns false if the loop was not running.
func (s *Sampler) Stop() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.runningLocked() {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	return true
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.log.LogInfo("🔄 Sampler started ch=%d period=%s", s.Channel(), s.Period())
	defer s.log.LogInfo("⏹️ Sampler stopped")

	for {
		start := time.Now()
		ch := s.Channel()
		fields, outcome := s.tick(ctx, ch)
		if ctx.Err() != nil {
			s.log.LogDebug("🔧 Tick on ch%d interrupted, dropping partial field set", ch)
			return
		}
		s.record(ctx, ch, fields, outcome, time.Since(start))

		wait := max(0, s.Period()-time.Since(start))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick performs one read sequence on ch and returns the field set without
// sending it anywhere.
func (s *Sampler) Tick(ctx context.Context, ch int) telemetry.FieldSet {
	fields, _ := s.tick(ctx, ch)
	return fields
}

type tickOutcome struct {
	transportFailures int
	lastTransportErr  error
}

func (o tickOutcome) deviceUnreachable() bool {
	return o.transportFailures == len(protocol.MonitorParams)
}

func (s *Sampler) tick(ctx context.Context, ch int) (telemetry.FieldSet, tickOutcome) {
	fields := make(telemetry.FieldSet, len(protocol.MonitorParams)+len(protocol.StatusBits))
	var outcome tickOutcome

	for _, par := range protocol.MonitorParams {
		reply, err := s.reader.Monitor(ctx, ch, par)
		if err != nil {
			outcome.transportFailures++
			outcome.lastTransportErr = err
			logger.LogDebug("🔧 MON %s ch%d: %v", par, ch, err)
		} else if !reply.OK {
			logger.LogDebug("🔧 MON %s ch%d: %s", par, ch, reply.Error)
		}

		if par == protocol.ParamStat {
			setStatus(fields, reply, err)
			continue
		}
		if v, ok := reply.Float(); ok && err == nil {
			fields[string(par)] = v
		} else {
			fields[string(par)] = nil
		}
	}
	return fields, outcome
}

// setStatus stores the raw status word and its decoded flags, or marks all of
// them absent.
func setStatus(fields telemetry.FieldSet, reply protocol.Reply, err error) {
	word, ok := reply.Int()
	if err != nil || !ok {
		fields[telemetry.FieldStat] = nil
		for _, b := range protocol.StatusBits {
			fields[b.Name] = nil
		}
		return
	}
	fields[telemetry.FieldStat] = word
	for name, v := range protocol.DecodeStatus(uint16(word)) {
		fields[name] = v
	}
}

func (s *Sampler) record(ctx context.Context, ch int, fields telemetry.FieldSet, outcome tickOutcome, elapsed time.Duration) {
	missing := fields.Missing()
	for _, name := range missing {
		s.metrics.IncrementMissingField(name)
	}

	result := metrics.ResultOK
	switch {
	case outcome.deviceUnreachable():
		result = metrics.ResultTransport
	case len(missing) > 0:
		result = metrics.ResultError
	}
	s.metrics.ObserveTick(result, elapsed)
	s.recordHealth(ctx, outcome)

	ts := time.Now().UTC()
	sinkErr := s.sink.Write(ctx, ch, fields, ts)
	s.recordSink(ctx, ch, sinkErr)

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Ticks++
	s.stats.LastTick = ts
	if outcome.deviceUnreachable() {
		s.stats.FailedTicks++
		s.failedTicks++
	} else {
		s.stats.LastSuccess = ts
		s.okTicks++
	}
	if sinkErr != nil {
		s.stats.SinkFailures++
	}
	if time.Since(s.lastSummary) >= summaryInterval {
		s.log.LogInfo("📊 Summary - Ticks ok: %d, failed: %d, Last 30s", s.okTicks, s.failedTicks)
		s.okTicks = 0
		s.failedTicks = 0
		s.lastSummary = time.Now()
	}
}

func (s *Sampler) recordSink(ctx context.Context, ch int, err error) {
	switch {
	case err == nil:
		s.metrics.IncrementSinkWrites(metrics.ResultOK)
	case errors.Is(err, recovery.ErrCircuitOpen):
		s.metrics.IncrementSinkWrites(metrics.ResultRejected)
		s.log.LogDebug("🔧 Sink write for ch%d rejected: %v", ch, err)
	default:
		s.metrics.IncrementSinkWrites(metrics.ResultFailed)
		s.errHandler.Handle(ctx, apperrors.NewSinkError("write", err, telemetry.NameOf(s.sink), ch))
	}
}

func (s *Sampler) recordHealth(ctx context.Context, outcome tickOutcome) {
	if s.health == nil {
		return
	}

	if !outcome.deviceUnreachable() {
		if s.health.RecordSuccess() {
			s.metrics.SetDeviceOnline(true)
			s.log.LogInfo("🟢 Device marked as ONLINE - functionality restored")
			s.publishStatus(ctx, true)
		}
		return
	}

	shouldMarkOffline := s.health.RecordError()
	errs := s.health.GetConsecutiveErrors()
	if errs == 1 {
		s.log.LogWarn("⚠️ Device unreachable, starting grace period")
	}
	if errs == 1 || errs%10 == 0 {
		s.errHandler.Handle(ctx, outcome.lastTransportErr)
	}
	if s.health.IsInGracePeriod() {
		s.log.LogDebug("🕐 Error %d in grace period (%.1fs elapsed) - keeping status online",
			errs, s.health.GetTimeSinceFirstError().Seconds())
		return
	}
	if shouldMarkOffline && s.health.IsOnline() {
		s.health.MarkOffline()
		s.metrics.SetDeviceOnline(false)
		s.log.LogError("🔴 Grace period expired - Device marked as OFFLINE after %d failed ticks over %.1f seconds",
			errs, s.health.GetTimeSinceFirstError().Seconds())
		s.publishStatus(ctx, false)
	}
}

func (s *Sampler) publishStatus(ctx context.Context, online bool) {
	if s.status == nil {
		return
	}
	if !online {
		if err := s.status.PublishStatusOffline(ctx); err != nil {
			s.log.LogError("⚠️ Error publishing offline status: %v", err)
		}
		return
	}
	if err := s.status.PublishStatusOnline(ctx); err != nil {
		s.log.LogError("⚠️ Error publishing online status: %v", err)
	}
	msg := fmt.Sprintf("Device answering again on ch%d", s.Channel())
	if err := s.status.PublishDiagnostic(ctx, apperrors.CodeRecovered, msg); err != nil {
		s.log.LogError("⚠️ Error publishing recovery diagnostic: %v", err)
	}
}

// Stats returns a snapshot of the counters.
func (s *Sampler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
