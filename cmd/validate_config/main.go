package main

import (
	"fmt"
	"io"
	"os"

	"caen-hv-bridge/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file>")
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Stdout))
}

func run(configPath string, out io.Writer) int {
	fmt.Fprintf(out, "📄 Loading config from: %s\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(out, "❌ Error loading config: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "✅ Config loaded successfully!\n")
	fmt.Fprintf(out, "   Version: %s\n", cfg.Version)
	fmt.Fprintf(out, "   Device: %s (timeout %d ms, retry backoff %d ms)\n",
		cfg.DeviceAddress(), cfg.Device.TimeoutMs, cfg.Device.RetryBackoffMs)
	fmt.Fprintf(out, "   Sampler: ch=%d period=%d ms autostart=%v\n",
		cfg.Sampler.Channel, cfg.Sampler.PeriodMs, cfg.Sampler.Autostart)

	if cfg.Influx.Enabled {
		influx := config.NewInfluxSettings(cfg)
		fmt.Fprintf(out, "   Influx: %s db=%s measurement=%s device=%s\n",
			influx.URL, influx.Database, influx.Measurement, influx.DeviceTag)
	} else {
		fmt.Fprintf(out, "   Influx: disabled\n")
	}
	if cfg.MQTT.Enabled {
		fmt.Fprintf(out, "   MQTT: %s:%d prefix=%s qos=%d ha_discovery=%v\n",
			cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, cfg.MQTT.HADiscovery)
	} else {
		fmt.Fprintf(out, "   MQTT: disabled\n")
	}
	if cfg.Health.HTTPPort > 0 {
		fmt.Fprintf(out, "   HTTP: :%d (/health, /metrics)\n", cfg.Health.HTTPPort)
	}
	fmt.Fprintf(out, "   Logging: %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)

	fmt.Fprintln(out, "\n✅ Configuration is valid!")
	return 0
}
