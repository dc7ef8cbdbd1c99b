// Package config provides configuration loading and management for dicomreslice.
// Files ending in .toml are read as TOML, everything else as YAML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/visualization"
)

// Config represents the application configuration
type Config struct {
	// Reslice parameters
	Reslice struct {
		// Workers bounds concurrent file parsing and slice resampling
		Workers int `yaml:"workers" toml:"workers"`

		// Planes lists the target planes produced by "reslice --plane all"
		Planes []string `yaml:"planes" toml:"planes"`
	} `yaml:"reslice" toml:"reslice"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" toml:"level"`

		Timestamps bool `yaml:"timestamps" toml:"timestamps"`
	} `yaml:"logging" toml:"logging"`

	// Export parameters
	Export struct {
		// Format is png, jpeg or tiff
		Format string `yaml:"format" toml:"format"`

		// Quality applies to jpeg only
		Quality int `yaml:"quality" toml:"quality"`

		OutputDir string `yaml:"outputDir" toml:"outputDir"`

		// SquarePixels rescales anisotropic slices before writing
		SquarePixels bool `yaml:"squarePixels" toml:"squarePixels"`
	} `yaml:"export" toml:"export"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Reslice.Workers = runtime.NumCPU()
	cfg.Reslice.Planes = []string{"axial", "coronal", "sagittal"}

	cfg.Logging.Level = "info"
	cfg.Logging.Timestamps = false

	cfg.Export.Format = "png"
	cfg.Export.Quality = 90
	cfg.Export.OutputDir = "resliced"
	cfg.Export.SquarePixels = true

	return cfg
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	for _, p := range c.Reslice.Planes {
		if _, err := orientation.ParsePlane(p); err != nil {
			return err
		}
	}
	if _, err := visualization.ParseFormat(c.Export.Format); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// Planes returns the configured target planes.
func (c *Config) Planes() []orientation.Plane {
	out := make([]orientation.Plane, 0, len(c.Reslice.Planes))
	for _, p := range c.Reslice.Planes {
		if plane, err := orientation.ParsePlane(p); err == nil {
			out = append(out, plane)
		}
	}
	return out
}

// Exporter builds an image exporter from the export section.
func (c *Config) Exporter() (*visualization.Exporter, error) {
	format, err := visualization.ParseFormat(c.Export.Format)
	if err != nil {
		return nil, err
	}
	e := visualization.NewExporter()
	e.Format = format
	e.Quality = c.Export.Quality
	e.SquarePixels = c.Export.SquarePixels
	return e, nil
}

// SaveConfig saves the configuration, as TOML when the path ends in .toml
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

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
