// Package config provides configuration loading and management for tractattr.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Interpolation selects how volumetric maps are sampled at
		// streamline coordinates: "nearest" or "trilinear"
		Interpolation string `yaml:"interpolation"`

		// EndpointsOnly restricts operations to streamline endpoints by default
		EndpointsOnly bool `yaml:"endpointsOnly"`

		// Overwrite allows conversions to replace existing attribute keys
		Overwrite bool `yaml:"overwrite"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveSlices determines whether projected maps are also exported
		// as per-axis slice image sequences
		SaveSlices bool `yaml:"saveSlices"`

		// SlicesDir is the directory slice images are written to
		SlicesDir string `yaml:"slicesDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.Interpolation = "trilinear"
	cfg.Processing.EndpointsOnly = false
	cfg.Processing.Overwrite = false

	// Set default output parameters
	cfg.Output.SaveSlices = false
	cfg.Output.SlicesDir = "map_slices"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
