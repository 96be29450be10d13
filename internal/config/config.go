// Package config loads LoopProfiler settings from TOML, applies environment
// overrides, expands paths and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Cache backends.
const (
	CacheSQLite = "sqlite"
	CacheBadger = "badger"
	CacheNone   = "none"
)

type Paths struct {
	DataDir      string `toml:"data_dir"`
	FeedbackFile string `toml:"feedback_file"`
	ModelFile    string `toml:"model_file"`
	CacheDir     string `toml:"cache_dir"`
}

type Cache struct {
	Backend string `toml:"backend"`
}

type Audio struct {
	FFmpeg        string   `toml:"ffmpeg"`
	FFprobe       string   `toml:"ffprobe"`
	RequireFFmpeg bool     `toml:"require_ffmpeg"`
	Timeout       Duration `toml:"timeout"`
}

type Extraction struct {
	Workers int `toml:"workers"`
}

type Candidates struct {
	Command    string   `toml:"command"`
	Top        int      `toml:"top"`
	BruteForce bool     `toml:"brute_force"`
	Timeout    Duration `toml:"timeout"`
}

type Scorer struct {
	RetrainDebounce Duration `toml:"retrain_debounce"`
}

type Logging struct {
	Level string `toml:"level"`
	Color bool   `toml:"color"`
}

// Config is the full application configuration.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Cache      Cache      `toml:"cache"`
	Audio      Audio      `toml:"audio"`
	Extraction Extraction `toml:"extraction"`
	Candidates Candidates `toml:"candidates"`
	Scorer     Scorer     `toml:"scorer"`
	Logging    Logging    `toml:"logging"`
}

// Duration is a time.Duration that reads and writes TOML strings like "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      "LooperOutput",
			FeedbackFile: "feedback.json",
			ModelFile:    "loop_model.msgpack",
			CacheDir:     "features_cache",
		},
		Cache: Cache{Backend: CacheSQLite},
		Audio: Audio{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			Timeout: Duration{2 * time.Minute},
		},
		Extraction: Extraction{Workers: 4},
		Candidates: Candidates{
			Command: "pymusiclooper",
			Top:     5,
			Timeout: Duration{10 * time.Minute},
		},
		Scorer:  Scorer{RetrainDebounce: Duration{100 * time.Millisecond}},
		Logging: Logging{Level: "info", Color: true},
	}
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loopprofiler/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has environment overrides applied and all paths expanded. The
// second result is the resolved file path, the third whether it existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// FeedbackPath is the absolute feedback document path.
func (c *Config) FeedbackPath() string {
	return joinUnlessAbs(c.Paths.DataDir, c.Paths.FeedbackFile)
}

// ModelPath is the absolute model blob path.
func (c *Config) ModelPath() string {
	return joinUnlessAbs(c.Paths.DataDir, c.Paths.ModelFile)
}

// CachePath is the feature cache location (a directory for every backend).
func (c *Config) CachePath() string {
	return joinUnlessAbs(c.Paths.DataDir, c.Paths.CacheDir)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOOPPROFILER_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("LOOPPROFILER_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) normalize() error {
	dir, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return err
	}
	c.Paths.DataDir = dir
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("loopprofiler.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

func joinUnlessAbs(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
