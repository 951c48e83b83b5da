package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"caen-hv-bridge/internal/config"
	"caen-hv-bridge/internal/logger"
)

// cliOptions holds the command line. Only flags given explicitly override
// the configuration file.
type cliOptions struct {
	configPath  string
	host        string
	port        int
	timeout     float64
	channel     int
	period      float64
	influxHost  string
	influxPort  int
	influxDB    string
	measurement string
	deviceTag   string
	start       bool
	noShell     bool
	logLevel    string

	set map[string]bool
}

func parseFlags(args []string, output io.Writer) (*cliOptions, error) {
	o := &cliOptions{set: map[string]bool{}}
	fs := flag.NewFlagSet("caen-hv-bridge", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&o.configPath, "config", "", "Path to configuration file (optional)")
	fs.StringVar(&o.host, "host", "", "CAEN IP/host (e.g. 192.168.197.102)")
	fs.IntVar(&o.port, "port", 23, "CAEN TCP port")
	fs.Float64Var(&o.timeout, "timeout", 3.0, "Device I/O timeout in seconds")
	fs.IntVar(&o.channel, "channel", 0, "Initial channel")
	fs.IntVar(&o.channel, "c", 0, "Initial channel (shorthand)")
	fs.Float64Var(&o.period, "period", 1.0, "Sampling period in seconds")
	fs.StringVar(&o.influxHost, "influx-host", "", "InfluxDB host; enables the Influx sink")
	fs.IntVar(&o.influxPort, "influx-port", 8086, "InfluxDB port")
	fs.StringVar(&o.influxDB, "influx-db", "", "InfluxDB database name; enables the Influx sink")
	fs.StringVar(&o.measurement, "measurement", "DT5533E", "Influx measurement")
	fs.StringVar(&o.deviceTag, "device-tag", "DT5533E", "Device tag of every point")
	fs.BoolVar(&o.start, "start", false, "Start sampling immediately")
	fs.BoolVar(&o.noShell, "no-shell", false, "Run without the interactive shell (implies --start)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: error, warn, info, debug, trace")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply copies explicitly given flags into cfg.
func (o *cliOptions) apply(cfg *config.Config) {
	if o.set["host"] {
		cfg.Device.Host = o.host
	}
	if o.set["port"] {
		cfg.Device.Port = o.port
	}
	if o.set["timeout"] {
		cfg.Device.TimeoutMs = millis(o.timeout)
	}
	if o.set["channel"] || o.set["c"] {
		cfg.Sampler.Channel = o.channel
	}
	if o.set["period"] {
		cfg.Sampler.PeriodMs = millis(o.period)
	}
	if o.set["influx-host"] {
		cfg.Influx.Enabled = true
		cfg.Influx.Host = o.influxHost
	}
	if o.set["influx-port"] {
		cfg.Influx.Port = o.influxPort
	}
	if o.set["influx-db"] {
		cfg.Influx.Enabled = true
		cfg.Influx.Database = o.influxDB
	}
	if o.set["measurement"] {
		cfg.Influx.Measurement = o.measurement
	}
	if o.set["device-tag"] {
		cfg.Influx.DeviceTag = o.deviceTag
	}
	if o.set["start"] {
		cfg.Sampler.Autostart = o.start
	}
	if o.noShell {
		cfg.Sampler.Autostart = true
	}
	if o.set["log-level"] {
		cfg.Logging.Level = o.logLevel
	}
}

// millis converts seconds to milliseconds. Non-positive input maps to -1 so
// validation rejects it instead of the default replacing it.
func millis(seconds float64) int {
	if seconds <= 0 {
		return -1
	}
	ms := int(seconds * 1000)
	if ms == 0 {
		ms = 1
	}
	return ms
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.LogError("Invalid arguments: %v", err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath, opts.apply)
	if err != nil {
		logger.LogError("Configuration error: %v", err)
		os.Exit(1)
	}
	logger.Configure(&cfg.Logging)
	logger.LogStartup("🔧 Logging initialized with level: %s", cfg.Logging.Level)

	app, err := NewApplication(cfg)
	if err != nil {
		logger.LogError("Application creation error: %v", err)
		os.Exit(1)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.LogInfo("📢 Stop signal received...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.Start(ctx); err != nil {
		logger.LogError("Application start error: %v", err)
		os.Exit(1)
	}

	if opts.noShell {
		<-ctx.Done()
	} else if err := app.RunShell(ctx, os.Stdin, os.Stdout); err != nil {
		logger.LogError("Shell error: %v", err)
	}

	cancel()
	app.Stop()
}
