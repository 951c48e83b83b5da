package config

import "fmt"

// CurrentVersion is the configuration version this code can parse
const CurrentVersion = "1.0"

// VersionInfo contains version metadata from config file
type VersionInfo struct {
	Version string `yaml:"version"`
}

// ValidateVersion checks if the config file version is compatible
func ValidateVersion(fileVersion string) error {
	if fileVersion != CurrentVersion {
		return fmt.Errorf("incompatible configuration version: %s (expected: %s)", fileVersion, CurrentVersion)
	}
	return nil
}
