package homeassistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"caen-hv-bridge/internal/protocol"
)

const (
	manufacturer = "CAEN"
	model        = "DT5533E"
)

// SensorConfig is the retained discovery document of one Home Assistant sensor
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Device              DeviceInfo `json:"device"`
	ValueTemplate       string     `json:"value_template"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	EntityCategory      string     `json:"entity_category,omitempty"`
	Icon                string     `json:"icon,omitempty"`
}

// DeviceInfo groups all sensors of one crate under a single HA device
type DeviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// Message is a discovery document ready to publish retained
type Message struct {
	Topic   string
	Payload []byte
}

type sensorSpec struct {
	param       protocol.Param
	name        string
	unit        string
	deviceClass string
	stateClass  string
	icon        string
}

// Units follow what the DT5533E reports: volts, microamps and seconds.
var channelSensors = []sensorSpec{
	{param: protocol.ParamVSet, name: "Voltage setpoint", unit: "V", deviceClass: "voltage"},
	{param: protocol.ParamVMon, name: "Voltage", unit: "V", deviceClass: "voltage", stateClass: "measurement"},
	{param: protocol.ParamISet, name: "Current limit", unit: "µA", deviceClass: "current"},
	{param: protocol.ParamIMon, name: "Current", unit: "µA", deviceClass: "current", stateClass: "measurement"},
	{param: protocol.ParamTrip, name: "Trip time", unit: "s", deviceClass: "duration"},
	{param: protocol.ParamStat, name: "Status word", icon: "mdi:list-status"},
}

// Discovery builds Home Assistant MQTT discovery documents for the readings
// the MQTT sink publishes.
type Discovery struct {
	prefix          string
	deviceID        string
	device          DeviceInfo
	statusTopic     string
	diagnosticTopic string
}

// NewDiscovery creates a builder. deviceTag names the HA device and, lowercased
// and sanitized, prefixes every unique id.
func NewDiscovery(prefix, deviceTag, statusTopic, diagnosticTopic string) *Discovery {
	id := sanitizeID(deviceTag)
	return &Discovery{
		prefix:   strings.TrimRight(prefix, "/"),
		deviceID: id,
		device: DeviceInfo{
			Name:         deviceTag,
			Identifiers:  []string{id},
			Manufacturer: manufacturer,
			Model:        model,
		},
		statusTopic:     statusTopic,
		diagnosticTopic: diagnosticTopic,
	}
}

// DeviceID is the sanitized id shared by all sensors
func (d *Discovery) DeviceID() string { return d.deviceID }

// ChannelConfigs returns one document per monitored parameter of channel,
// reading from the JSON state published on stateTopic.
func (d *Discovery) ChannelConfigs(channel int, stateTopic string) ([]Message, error) {
	msgs := make([]Message, 0, len(channelSensors))
	for _, s := range channelSensors {
		objectID := fmt.Sprintf("%s_ch%d_%s", d.deviceID, channel, strings.ToLower(string(s.param)))
		cfg := SensorConfig{
			Name:                fmt.Sprintf("CH%d %s", channel, s.name),
			UniqueID:            objectID,
			StateTopic:          stateTopic,
			UnitOfMeasurement:   s.unit,
			DeviceClass:         s.deviceClass,
			StateClass:          s.stateClass,
			Device:              d.device,
			ValueTemplate:       fmt.Sprintf("{{ value_json.fields.get('%s') }}", s.param),
			AvailabilityTopic:   d.statusTopic,
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
			Icon:                s.icon,
		}
		msg, err := d.message(objectID, cfg)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DiagnosticConfig returns the document of the bridge diagnostic sensor
func (d *Discovery) DiagnosticConfig() (Message, error) {
	objectID := d.deviceID + "_diagnostic"
	return d.message(objectID, SensorConfig{
		Name:                "Diagnostic",
		UniqueID:            objectID,
		StateTopic:          d.diagnosticTopic,
		Device:              d.device,
		ValueTemplate:       "{{ value_json.code }}",
		AvailabilityTopic:   d.statusTopic,
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		EntityCategory:      "diagnostic",
		Icon:                "mdi:alert-circle",
	})
}

func (d *Discovery) message(objectID string, cfg SensorConfig) (Message, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return Message{}, fmt.Errorf("error serializing discovery for %s: %w", objectID, err)
	}
	return Message{
		Topic:   fmt.Sprintf("%s/sensor/%s/config", d.prefix, objectID),
		Payload: payload,
	}, nil
}

// sanitizeID keeps [a-z0-9_] and maps everything else to '_'
func sanitizeID(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return "caen_hv"
	}
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
