package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"caen-hv-bridge/internal/config"
	"caen-hv-bridge/internal/device"
	apperrors "caen-hv-bridge/internal/errors"
	"caen-hv-bridge/internal/health"
	bridgehttp "caen-hv-bridge/internal/http"
	"caen-hv-bridge/internal/logger"
	"caen-hv-bridge/internal/metrics"
	"caen-hv-bridge/internal/sampler"
	"caen-hv-bridge/internal/services"
	"caen-hv-bridge/internal/shell"
	"caen-hv-bridge/internal/telemetry"
)

const version = "1.0.0"

// Application wires the device connection, the sampler, the sinks and the
// status surfaces together.
type Application struct {
	config *config.Config

	metrics    metrics.MetricsCollector
	prometheus *metrics.PrometheusMetrics // nil when the HTTP server is disabled

	device       *device.Client
	sink         telemetry.Sink
	mqtt         *telemetry.MQTTSink // nil when MQTT is disabled
	health       *health.DeviceMonitor
	errorHandler *apperrors.ErrorHandler
	sampler      *sampler.Sampler
	server       *bridgehttp.Server
	heartbeat    *services.HeartbeatService
}

// NewApplication builds every component from cfg. Nothing is started.
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	if cfg.Health.HTTPPort > 0 {
		app.prometheus = metrics.NewPrometheusMetrics()
		app.metrics = app.prometheus
	} else {
		app.metrics = metrics.NewNullMetrics()
	}

	ds := config.NewDeviceSettings(cfg)
	app.device = device.New(device.Config{
		Address:      ds.Address,
		Timeout:      ds.Timeout,
		RetryBackoff: ds.RetryBackoff,
	}, device.WithMetrics(app.metrics))

	sink, err := app.buildSinks()
	if err != nil {
		return nil, err
	}
	app.sink = sink

	ss := config.NewSamplerSettings(cfg)
	app.health = health.NewDeviceMonitor(ss.GracePeriod)
	app.errorHandler = apperrors.NewErrorHandler(nil)

	opts := []sampler.Option{
		sampler.WithMetrics(app.metrics),
		sampler.WithHealth(app.health),
		sampler.WithErrorHandler(app.errorHandler),
	}
	if app.mqtt != nil {
		app.errorHandler.SetPublisher(app.mqtt)
		opts = append(opts, sampler.WithStatusPublisher(app.mqtt))
		if interval := config.NewMQTTSettings(cfg).HeartbeatInterval; interval > 0 {
			app.heartbeat = services.NewHeartbeatService(app.mqtt, app.health, interval)
		}
	}

	app.sampler, err = sampler.New(sampler.Config{Channel: ss.Channel, Period: ss.Period}, app.device, app.sink, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating sampler: %w", err)
	}

	if app.prometheus != nil {
		handler := bridgehttp.NewHealthHandler(app.health, app.sampler, version)
		app.server = bridgehttp.NewServer(cfg.Health.HTTPPort, bridgehttp.NewMux(handler, app.prometheus.Handler()))
	}
	return app, nil
}

// buildSinks returns the configured sinks, each behind a circuit breaker,
// or a log sink when none is enabled.
func (app *Application) buildSinks() (telemetry.Sink, error) {
	breaker := config.NewBreakerSettings(app.config)
	var sinks []telemetry.Sink

	if app.config.Influx.Enabled {
		influx, err := telemetry.NewInfluxSink(config.NewInfluxSettings(app.config))
		if err != nil {
			return nil, fmt.Errorf("error creating influx sink: %w", err)
		}
		sinks = append(sinks, telemetry.NewBreakerSink(influx, breaker))
	}
	if app.config.MQTT.Enabled {
		app.mqtt = telemetry.NewMQTTSink(config.NewMQTTSettings(app.config))
		sinks = append(sinks, telemetry.NewBreakerSink(app.mqtt, breaker))
	}

	switch len(sinks) {
	case 0:
		logger.LogWarn("⚠️ No telemetry sink enabled, field sets are only logged")
		return telemetry.NewLogSink(nil), nil
	case 1:
		return sinks[0], nil
	default:
		return telemetry.NewMultiSink(sinks...), nil
	}
}

// Start connects what can be connected and launches the background services.
// An unreachable device is not fatal: the first request reconnects.
func (app *Application) Start(ctx context.Context) error {
	logger.LogStartup("🚀 CAEN HV bridge %s starting (device %s)", version, app.device.Address())

	if app.mqtt != nil {
		go func() {
			if err := app.mqtt.Connect(ctx); err != nil {
				logger.LogWarn("⚠️ MQTT sink not connected: %v", err)
				return
			}
			app.onMQTTConnected(ctx)
		}()
	}

	if err := app.device.Connect(ctx); err != nil {
		app.errorHandler.Handle(ctx, err)
		logger.LogWarn("⚠️ Device not reachable yet, the first request will retry")
	} else {
		logger.LogInfo("✅ Connected to %s", app.device.Address())
	}

	if app.server != nil {
		app.server.Start()
	}
	if app.heartbeat != nil {
		go app.heartbeat.Start(ctx)
	}

	if app.config.Sampler.Autostart {
		app.sampler.Start(ctx)
	}
	return nil
}

// onMQTTConnected refreshes the retained status right away instead of
// waiting a full heartbeat interval.
func (app *Application) onMQTTConnected(ctx context.Context) {
	if app.heartbeat != nil {
		app.heartbeat.SendImmediateHeartbeat(ctx)
	}
}

// RunShell runs the interactive shell until quit, end of input or ctx is done.
func (app *Application) RunShell(ctx context.Context, in io.Reader, out io.Writer) error {
	sh := shell.New(app.device, app.sampler, out, shell.WithHealth(app.health))
	return sh.Run(ctx, in)
}

// Stop stops the sampler, then closes the device and the sinks.
func (app *Application) Stop() {
	logger.LogInfo("🛑 Stopping application...")

	app.sampler.Stop()

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.server.Shutdown(ctx); err != nil {
			logger.LogWarn("⚠️ HTTP server shutdown: %v", err)
		}
		cancel()
	}

	app.device.Close()
	if err := app.sink.Close(); err != nil {
		logger.LogWarn("⚠️ Error closing sinks: %v", err)
	}
	logger.LogInfo("✅ Application stopped")
}
