package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	bridgeerrors "caen-hv-bridge/internal/errors"
	"caen-hv-bridge/internal/logger"
)

// Config represents the complete application configuration
type Config struct {
	Version string               `yaml:"version,omitempty"` // optional, only 1.0 is accepted
	Device  DeviceConfig         `yaml:"device"`
	Sampler SamplerConfig        `yaml:"sampler"`
	Influx  InfluxConfig         `yaml:"influx"`
	MQTT    MQTTConfig           `yaml:"mqtt"`
	Sink    SinkConfig           `yaml:"sink"`
	Health  HealthConfig         `yaml:"health"`
	Logging logger.LoggingConfig `yaml:"logging"`
}

// DeviceConfig describes how to reach the power supply
type DeviceConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

// SamplerConfig contains the initial sampling channel and cadence
type SamplerConfig struct {
	Channel   int  `yaml:"channel"`
	PeriodMs  int  `yaml:"period_ms"`
	Autostart bool `yaml:"autostart"`
}

// InfluxConfig contains InfluxDB v1 sink settings
type InfluxConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	Measurement    string `yaml:"measurement"`
	DeviceTag      string `yaml:"device_tag"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	CreateDatabase *bool  `yaml:"create_database,omitempty"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

// MQTTConfig contains MQTT broker settings for the MQTT sink
type MQTTConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Broker            string `yaml:"broker"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	ClientID          string `yaml:"client_id"`
	RetryDelayMs      int    `yaml:"retry_delay_ms"` // Delay between connection retries
	KeepAliveS        int    `yaml:"keep_alive_s"`
	TopicPrefix       string `yaml:"topic_prefix"`
	QoS               byte   `yaml:"qos"`
	Retain            bool   `yaml:"retain"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_s"`
	HADiscovery       bool   `yaml:"ha_discovery"`     // Publish Home Assistant discovery documents
	DiscoveryPrefix   string `yaml:"discovery_prefix"` // Defaults to "homeassistant"
}

// SinkConfig contains settings shared by all sinks
type SinkConfig struct {
	BreakerMaxFailures   int  `yaml:"breaker_max_failures"`
	BreakerTimeoutS      int  `yaml:"breaker_timeout_s"`
	BreakerHalfOpenTries int  `yaml:"breaker_half_open_tries"`
	AllowNone            bool `yaml:"allow_none"`
}

// HealthConfig contains device health tracking and HTTP endpoint settings
type HealthConfig struct {
	GracePeriodS int `yaml:"grace_period_s"`
	HTTPPort     int `yaml:"http_port"` // 0 disables the server
}

// DefaultPaths are searched, in order, after an explicit path.
var DefaultPaths = []string{
	"/etc/caen-bridge/config.yaml",
	"/etc/caen-bridge.yaml",
	"./config.yaml",
}

// LoadConfig loads configuration from the given file or the default locations.
func LoadConfig(configPath string) (*Config, error) {
	data, usedPath, err := readFirst(configPath)
	if err != nil {
		return nil, err
	}
	return parse(data, usedPath, nil)
}

// Load is LoadConfig with command line overrides applied before defaults and
// validation. Without an explicit path a missing file is not an error: the
// configuration is then built from defaults and overrides alone.
func Load(configPath string, override func(*Config)) (*Config, error) {
	data, usedPath, err := readFirst(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		logger.LogInfo("ℹ️ No configuration file found, using defaults and flags")
		data, usedPath = nil, "<defaults>"
	}
	return parse(data, usedPath, override)
}

func readFirst(configPath string) ([]byte, string, error) {
	paths := append([]string{configPath}, DefaultPaths...)

	var lastErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - explicit path from the command line or a fixed location
		data, err := os.ReadFile(path)
		if err == nil {
			logger.LogDebug("🔧 Configuration loaded from %s", path)
			return data, path, nil
		}
		lastErr = err
	}
	return nil, "", bridgeerrors.NewConfigError("load",
		fmt.Errorf("cannot read configuration file from any of the locations %v: %w", paths, lastErr), "")
}

// LoadConfigFromString loads configuration from a YAML string (useful for testing)
func LoadConfigFromString(yamlContent string) (*Config, error) {
	return parse([]byte(yamlContent), "<string>", nil)
}

// Default returns a configuration with every default applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func parse(data []byte, source string, override func(*Config)) (*Config, error) {
	var versionCheck VersionInfo
	if err := yaml.Unmarshal(data, &versionCheck); err != nil {
		return nil, bridgeerrors.NewConfigError("parse",
			fmt.Errorf("error parsing configuration version from %s: %w", source, err), "version")
	}
	if versionCheck.Version != "" {
		if err := ValidateVersion(versionCheck.Version); err != nil {
			return nil, bridgeerrors.NewConfigError("parse", err, "version")
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, bridgeerrors.NewConfigError("parse",
			fmt.Errorf("error parsing configuration from %s: %w", source, err), "")
	}

	if override != nil {
		override(&cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}

	if c.Device.Port == 0 {
		c.Device.Port = 23
	}
	if c.Device.TimeoutMs == 0 {
		c.Device.TimeoutMs = 3000
	}
	if c.Device.RetryBackoffMs == 0 {
		c.Device.RetryBackoffMs = 200
	}

	if c.Sampler.PeriodMs == 0 {
		c.Sampler.PeriodMs = 1000
	}

	if c.Influx.Host == "" {
		c.Influx.Host = "localhost"
	}
	if c.Influx.Port == 0 {
		c.Influx.Port = 8086
	}
	if c.Influx.Database == "" {
		c.Influx.Database = "caen"
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "DT5533E"
	}
	if c.Influx.DeviceTag == "" {
		c.Influx.DeviceTag = "DT5533E"
	}
	if c.Influx.CreateDatabase == nil {
		create := true
		c.Influx.CreateDatabase = &create
	}
	if c.Influx.TimeoutMs == 0 {
		c.Influx.TimeoutMs = 5000
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.RetryDelayMs == 0 {
		c.MQTT.RetryDelayMs = 5000
	}
	if c.MQTT.KeepAliveS == 0 {
		c.MQTT.KeepAliveS = 60
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "caen/dt5533e"
	}
	c.MQTT.TopicPrefix = strings.TrimRight(c.MQTT.TopicPrefix, "/")
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.HeartbeatInterval == 0 {
		c.MQTT.HeartbeatInterval = 60
	}

	if c.Sink.BreakerMaxFailures == 0 {
		c.Sink.BreakerMaxFailures = 5
	}
	if c.Sink.BreakerTimeoutS == 0 {
		c.Sink.BreakerTimeoutS = 30
	}
	if c.Sink.BreakerHalfOpenTries == 0 {
		c.Sink.BreakerHalfOpenTries = 1
	}

	if c.Health.GracePeriodS == 0 {
		c.Health.GracePeriodS = 15
	}

	if c.Logging.Level == "" {
		c.Logging.Level = logger.LogLevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Host) == "" {
		return bridgeerrors.NewConfigError("validate", fmt.Errorf("device host is required"), "device.host")
	}
	if err := checkPort("device.port", c.Device.Port); err != nil {
		return err
	}
	if c.Device.TimeoutMs < 0 {
		return bridgeerrors.NewValidationError("device.timeout_ms", "> 0", c.Device.TimeoutMs)
	}
	if c.Device.RetryBackoffMs < 0 {
		return bridgeerrors.NewValidationError("device.retry_backoff_ms", ">= 0", c.Device.RetryBackoffMs)
	}

	if c.Sampler.Channel < 0 {
		return bridgeerrors.NewValidationError("sampler.channel", ">= 0", c.Sampler.Channel)
	}
	if c.Sampler.PeriodMs <= 0 {
		return bridgeerrors.NewValidationError("sampler.period_ms", "> 0", c.Sampler.PeriodMs)
	}

	if c.Influx.Enabled {
		if err := checkPort("influx.port", c.Influx.Port); err != nil {
			return err
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("mqtt broker is required when mqtt is enabled"), "mqtt.broker")
		}
		if err := checkPort("mqtt.port", c.MQTT.Port); err != nil {
			return err
		}
		if c.MQTT.QoS > 2 {
			return bridgeerrors.NewValidationError("mqtt.qos", "0, 1 or 2", c.MQTT.QoS)
		}
	}

	if !c.Influx.Enabled && !c.MQTT.Enabled && !c.Sink.AllowNone {
		return bridgeerrors.NewConfigError("validate",
			fmt.Errorf("no telemetry sink enabled (enable influx or mqtt, or set sink.allow_none)"), "sink")
	}

	if c.Health.HTTPPort != 0 {
		if err := checkPort("health.http_port", c.Health.HTTPPort); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return bridgeerrors.NewValidationError("logging.format", "text or json", c.Logging.Format)
	}
	return nil
}

func checkPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return bridgeerrors.NewValidationError(field, "1-65535", port)
	}
	return nil
}

// DeviceAddress returns host:port of the power supply.
func (c *Config) DeviceAddress() string {
	return net.JoinHostPort(c.Device.Host, strconv.Itoa(c.Device.Port))
}
