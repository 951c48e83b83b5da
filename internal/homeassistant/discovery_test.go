package homeassistant

import (
	"encoding/json"
	"testing"
)

func TestChannelConfigs(t *testing.T) {
	d := NewDiscovery("homeassistant/", "DT5533E Lab-A", "caen/status", "caen/diagnostic")
	if d.DeviceID() != "dt5533e_lab_a" {
		t.Fatalf("Unexpected device id %q", d.DeviceID())
	}

	msgs, err := d.ChannelConfigs(1, "caen/ch1/state")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 6 {
		t.Fatalf("Expected 6 sensors, got %d", len(msgs))
	}

	wantTopics := []string{
		"homeassistant/sensor/dt5533e_lab_a_ch1_vset/config",
		"homeassistant/sensor/dt5533e_lab_a_ch1_vmon/config",
		"homeassistant/sensor/dt5533e_lab_a_ch1_iset/config",
		"homeassistant/sensor/dt5533e_lab_a_ch1_imon/config",
		"homeassistant/sensor/dt5533e_lab_a_ch1_trip/config",
		"homeassistant/sensor/dt5533e_lab_a_ch1_stat/config",
	}
	for i, want := range wantTopics {
		if msgs[i].Topic != want {
			t.Errorf("Sensor %d: expected topic %s, got %s", i, want, msgs[i].Topic)
		}
	}

	var imon SensorConfig
	if err := json.Unmarshal(msgs[3].Payload, &imon); err != nil {
		t.Fatal(err)
	}
	if imon.Name != "CH1 Current" || imon.UnitOfMeasurement != "µA" || imon.StateClass != "measurement" {
		t.Errorf("Unexpected IMON config: %+v", imon)
	}
	if imon.StateTopic != "caen/ch1/state" || imon.AvailabilityTopic != "caen/status" {
		t.Errorf("Unexpected IMON topics: %+v", imon)
	}
	if imon.Device.Model != "DT5533E" || imon.Device.Identifiers[0] != "dt5533e_lab_a" {
		t.Errorf("Unexpected device info: %+v", imon.Device)
	}

	var stat map[string]any
	if err := json.Unmarshal(msgs[5].Payload, &stat); err != nil {
		t.Fatal(err)
	}
	if _, ok := stat["unit_of_measurement"]; ok {
		t.Error("Status word must not carry a unit")
	}
}

func TestDiagnosticConfig(t *testing.T) {
	d := NewDiscovery("ha", "", "s", "diag")
	msg, err := d.DiagnosticConfig()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Topic != "ha/sensor/caen_hv_diagnostic/config" {
		t.Errorf("Unexpected topic %s", msg.Topic)
	}

	var cfg SensorConfig
	if err := json.Unmarshal(msg.Payload, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.EntityCategory != "diagnostic" || cfg.StateTopic != "diag" || cfg.ValueTemplate != "{{ value_json.code }}" {
		t.Errorf("Unexpected diagnostic config: %+v", cfg)
	}
}
