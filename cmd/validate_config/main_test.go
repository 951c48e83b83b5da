package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "device: {host: hv.lab}\ninflux: {enabled: true, database: annie}\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if code := run(path, &out); code != 0 {
		t.Fatalf("Expected exit code 0, got %d: %s", code, out.String())
	}
	for _, want := range []string{"Device: hv.lab:23", "db=annie", "MQTT: disabled", "Configuration is valid"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output misses %q:\n%s", want, out.String())
		}
	}
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("influx: {enabled: true}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if code := run(path, &out); code != 1 {
		t.Fatalf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(out.String(), "device.host") {
		t.Errorf("Expected the failing field in the output:\n%s", out.String())
	}
}
