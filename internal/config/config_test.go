package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loopprofiler.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("LOOPPROFILER_DATA_DIR", "")
	t.Setenv("LOOPPROFILER_CACHE_BACKEND", "")
	t.Setenv("LOG_LEVEL", "")

	missing := filepath.Join(t.TempDir(), "absent.toml")
	cfg, path, exists, err := Load(missing)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Error("expected exists=false for a missing file")
	}
	if path != missing {
		t.Errorf("path = %q, want %q", path, missing)
	}
	if cfg.Cache.Backend != CacheSQLite {
		t.Errorf("backend = %q, want sqlite", cfg.Cache.Backend)
	}
	if cfg.Audio.RequireFFmpeg {
		t.Error("require_ffmpeg should default to false so WAV-only setups open")
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Errorf("data dir not expanded: %q", cfg.Paths.DataDir)
	}
	if cfg.FeedbackPath() != filepath.Join(cfg.Paths.DataDir, "feedback.json") {
		t.Errorf("FeedbackPath = %q", cfg.FeedbackPath())
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
[paths]
data_dir = "/tmp/ignored"

[cache]
backend = "Badger"

[extraction]
workers = 2

[scorer]
retrain_debounce = "750ms"

[logging]
level = "debug"
`)
	t.Setenv("LOOPPROFILER_DATA_DIR", dataDir)
	t.Setenv("LOOPPROFILER_CACHE_BACKEND", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Paths.DataDir != dataDir {
		t.Errorf("data dir = %q, want env override %q", cfg.Paths.DataDir, dataDir)
	}
	if cfg.Cache.Backend != CacheBadger {
		t.Errorf("backend = %q, want badger (normalized)", cfg.Cache.Backend)
	}
	if cfg.Extraction.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Extraction.Workers)
	}
	if cfg.Scorer.RetrainDebounce.Duration != 750*time.Millisecond {
		t.Errorf("debounce = %v, want 750ms", cfg.Scorer.RetrainDebounce.Duration)
	}
	if cfg.LogLevel() != logger.DEBUG {
		t.Errorf("log level = %v, want DEBUG", cfg.LogLevel())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"zero workers", func(c *Config) { c.Extraction.Workers = 0 }},
		{"zero top", func(c *Config) { c.Candidates.Top = 0 }},
		{"negative debounce", func(c *Config) { c.Scorer.RetrainDebounce.Duration = -time.Second }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"no data dir", func(c *Config) { c.Paths.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Paths.DataDir = "/tmp/lp"
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseErrorSurfaced(t *testing.T) {
	path := writeConfig(t, "[extraction\nworkers = ")
	if _, _, _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed TOML")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := writeConfig(t, string(data))
	t.Setenv("LOOPPROFILER_DATA_DIR", "")
	t.Setenv("LOOPPROFILER_CACHE_BACKEND", "")
	t.Setenv("LOG_LEVEL", "")

	loaded, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load encoded config: %v", err)
	}
	if loaded.Candidates.Timeout.Duration != cfg.Candidates.Timeout.Duration {
		t.Errorf("timeout = %v, want %v", loaded.Candidates.Timeout.Duration, cfg.Candidates.Timeout.Duration)
	}
}
