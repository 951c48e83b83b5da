package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DeviceSettings contains only what the device connection needs
// Used for dependency injection to avoid coupling to full Config
type DeviceSettings struct {
	Address      string
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// NewDeviceSettings extracts device settings from full config
func NewDeviceSettings(cfg *Config) DeviceSettings {
	return DeviceSettings{
		Address:      cfg.DeviceAddress(),
		Timeout:      time.Duration(cfg.Device.TimeoutMs) * time.Millisecond,
		RetryBackoff: time.Duration(cfg.Device.RetryBackoffMs) * time.Millisecond,
	}
}

// SamplerSettings contains the initial sampler configuration
type SamplerSettings struct {
	Channel     int
	Period      time.Duration
	Autostart   bool
	GracePeriod time.Duration
}

// NewSamplerSettings extracts sampler settings from full config
func NewSamplerSettings(cfg *Config) SamplerSettings {
	return SamplerSettings{
		Channel:     cfg.Sampler.Channel,
		Period:      time.Duration(cfg.Sampler.PeriodMs) * time.Millisecond,
		Autostart:   cfg.Sampler.Autostart,
		GracePeriod: time.Duration(cfg.Health.GracePeriodS) * time.Second,
	}
}

// InfluxSettings contains only InfluxDB sink configuration
type InfluxSettings struct {
	URL            string
	Database       string
	Measurement    string
	DeviceTag      string
	Username       string
	Password       string
	CreateDatabase bool
	Timeout        time.Duration
}

// NewInfluxSettings extracts InfluxDB settings from full config
func NewInfluxSettings(cfg *Config) InfluxSettings {
	return InfluxSettings{
		URL:            "http://" + net.JoinHostPort(cfg.Influx.Host, strconv.Itoa(cfg.Influx.Port)),
		Database:       cfg.Influx.Database,
		Measurement:    cfg.Influx.Measurement,
		DeviceTag:      cfg.Influx.DeviceTag,
		Username:       cfg.Influx.Username,
		Password:       cfg.Influx.Password,
		CreateDatabase: cfg.Influx.CreateDatabase == nil || *cfg.Influx.CreateDatabase,
		Timeout:        time.Duration(cfg.Influx.TimeoutMs) * time.Millisecond,
	}
}

// MQTTSettings contains only MQTT-specific configuration
type MQTTSettings struct {
	BrokerURL         string
	Username          string
	Password          string
	ClientID          string
	RetryDelay        time.Duration
	KeepAlive         time.Duration
	TopicPrefix       string
	DeviceTag         string
	QoS               byte
	Retain            bool
	HeartbeatInterval time.Duration
	DiscoveryPrefix   string // empty when Home Assistant discovery is off
}

// NewMQTTSettings extracts MQTT settings from full config.
// An empty client id becomes "caen-bridge-<hostname>-<uuid prefix>" so two
// bridges on one broker never kick each other off.
func NewMQTTSettings(cfg *Config) MQTTSettings {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "host"
		}
		clientID = fmt.Sprintf("caen-bridge-%s-%s", host, uuid.NewString()[:8])
	}
	discovery := ""
	if cfg.MQTT.HADiscovery {
		discovery = cfg.MQTT.DiscoveryPrefix
	}
	return MQTTSettings{
		DiscoveryPrefix:   discovery,
		BrokerURL:         "tcp://" + net.JoinHostPort(cfg.MQTT.Broker, strconv.Itoa(cfg.MQTT.Port)),
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		ClientID:          clientID,
		RetryDelay:        time.Duration(cfg.MQTT.RetryDelayMs) * time.Millisecond,
		KeepAlive:         time.Duration(cfg.MQTT.KeepAliveS) * time.Second,
		TopicPrefix:       cfg.MQTT.TopicPrefix,
		DeviceTag:         cfg.Influx.DeviceTag,
		QoS:               cfg.MQTT.QoS,
		Retain:            cfg.MQTT.Retain,
		HeartbeatInterval: time.Duration(cfg.MQTT.HeartbeatInterval) * time.Second,
	}
}

// BreakerSettings configures the circuit breaker placed in front of each sink
type BreakerSettings struct {
	MaxFailures      int
	Timeout          time.Duration
	HalfOpenMaxTries int
}

// NewBreakerSettings extracts circuit breaker settings from full config
func NewBreakerSettings(cfg *Config) BreakerSettings {
	return BreakerSettings{
		MaxFailures:      cfg.Sink.BreakerMaxFailures,
		Timeout:          time.Duration(cfg.Sink.BreakerTimeoutS) * time.Second,
		HalfOpenMaxTries: cfg.Sink.BreakerHalfOpenTries,
	}
}
