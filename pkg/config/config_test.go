package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/visualization"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Expected defaults (-want +got):\n%s", diff)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Reslice.Workers = 3
			cfg.Reslice.Planes = []string{"coronal"}
			cfg.Logging.Level = "debug"
			cfg.Export.Format = "tiff"
			cfg.Export.SquarePixels = false

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			loaded, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if diff := cmp.Diff(cfg, loaded); diff != "" {
				t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	data := "[export]\nformat = \"jpeg\"\nquality = 75\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Export.Format != "jpeg" || cfg.Export.Quality != 75 {
		t.Errorf("Expected jpeg/75, got %s/%d", cfg.Export.Format, cfg.Export.Quality)
	}
	if cfg.Export.OutputDir != "resliced" {
		t.Errorf("Expected default output dir to survive, got %q", cfg.Export.OutputDir)
	}

	e, err := cfg.Exporter()
	if err != nil {
		t.Fatalf("Exporter failed: %v", err)
	}
	if e.Format != visualization.JPEG || e.Quality != 75 {
		t.Errorf("Unexpected exporter %+v", e)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"plane", func(c *Config) { c.Reslice.Planes = []string{"oblique"} }},
		{"format", func(c *Config) { c.Export.Format = "gif" }},
		{"level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("export:\n  format: gif\n"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected LoadConfig to reject an invalid format")
	}
}

func TestPlanes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reslice.Planes = []string{"Sagittal", "coronal"}
	want := []orientation.Plane{orientation.Sagittal, orientation.Coronal}
	if diff := cmp.Diff(want, cfg.Planes()); diff != "" {
		t.Errorf("Planes mismatch (-want +got):\n%s", diff)
	}
}
