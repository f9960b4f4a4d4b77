package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Skryldev/image-compositor/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty overlay", func(c *config.Config) { c.OverlayPath = "" }},
		{"zero timeout", func(c *config.Config) { c.ForegroundTimeout = 0 }},
		{"preview quality", func(c *config.Config) { c.PreviewQuality = 0 }},
		{"interpolation", func(c *config.Config) { c.Interpolation = "lanczos" }},
		{"s3 without bucket", func(c *config.Config) { c.Storage = config.StorageS3 }},
		{"redis without addr", func(c *config.Config) { c.Cache = config.CacheRedis; c.Redis.Addr = "" }},
		{"log backend", func(c *config.Config) { c.LogBackend = "zap" }},
	}
	for _, tc := range tests {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := config.Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compositor.yaml")
	yaml := []byte(`
overlay_path: /frames/claws.png
foreground_timeout: 3s
server:
  addr: ":9090"
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OverlayPath != "/frames/claws.png" {
		t.Errorf("overlay path: got %q", cfg.OverlayPath)
	}
	if cfg.ForegroundTimeout != 3*time.Second {
		t.Errorf("foreground timeout: got %v", cfg.ForegroundTimeout)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server addr: got %q", cfg.Server.Addr)
	}
	if cfg.ExportFilename != "wolverine-mlb-meme.png" {
		t.Errorf("export filename default lost: got %q", cfg.ExportFilename)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COMPOSITOR_EXPORT_FILENAME", "traded.png")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExportFilename != "traded.png" {
		t.Errorf("export filename: got %q, want traded.png", cfg.ExportFilename)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
