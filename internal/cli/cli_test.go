package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := New(&out, io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPhantomWritesResliced(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "phantom", "--size", "6", "--depth", "4", "--out", dir, "--format", "tiff"); err != nil {
		t.Fatalf("phantom failed: %v", err)
	}

	// x has 6 columns, so 6 sagittal slices; y has 6 rows, so 6 coronal slices
	for plane, want := range map[string]int{"coronal": 6, "sagittal": 6} {
		files, err := filepath.Glob(filepath.Join(dir, "phantom-z", plane, "*.tiff"))
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != want {
			t.Errorf("%s: expected %d files, got %d", plane, want, len(files))
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "phantom-z", "axial")); !os.IsNotExist(err) {
		t.Error("Expected the source plane to be skipped")
	}
}

func TestPhantomSinglePlane(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "phantom", "--size", "4", "--depth", "3", "--out", dir, "--plane", "coronal")
	if err != nil {
		t.Fatalf("phantom failed: %v", err)
	}
	if !strings.Contains(out, "coronal: 4 slices") {
		t.Errorf("Expected coronal summary, got:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "phantom-z", "sagittal")); !os.IsNotExist(err) {
		t.Error("Expected sagittal to be skipped")
	}
	if _, err := os.Stat(filepath.Join(dir, "phantom-z", "coronal", "coronal_000.png")); err != nil {
		t.Errorf("Expected first coronal slice: %v", err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicomreslice.toml")
	if _, err := run(t, "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	out, err := run(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"reslice:", "format: png", "squarePixels: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	empty := t.TempDir()
	tests := [][]string{
		{"reslice", empty},
		{"info", empty},
		{"verify", empty},
		{"phantom", "--plane", "oblique", "--out", empty},
		{"phantom", "--format", "gif", "--out", empty},
		{"phantom", "--size", "1"},
		{"reslice"},
	}
	for _, args := range tests {
		if _, err := run(t, args...); err == nil {
			t.Errorf("Expected %v to fail", args)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]log.Level{"debug": log.DebugLevel, "WARN": log.WarnLevel, "error": log.ErrorLevel, "": log.InfoLevel} {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestVerboseOverridesConfig(t *testing.T) {
	var logs bytes.Buffer
	c := New(io.Discard, &logs, LogInfo)
	root := c.RootCommand()
	root.SetArgs([]string{"--verbose", "config", "show"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if c.Logger.GetLevel() != log.DebugLevel {
		t.Errorf("Expected debug level, got %v", c.Logger.GetLevel())
	}
}
