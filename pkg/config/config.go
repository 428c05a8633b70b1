// Package config holds the settings of the quill command: a YAML file
// overridden by QUILL_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neurodesk/quill/pkg/compiler"
	v "github.com/neurodesk/quill/pkg/validator"
	"gopkg.in/yaml.v3"
)

// Config is the tool configuration.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level,omitempty"`
	// MaxPartialDepth bounds nested partial rendering.
	MaxPartialDepth int `yaml:"max_partial_depth,omitempty"`
	// CacheDir stores remote template sources.
	CacheDir string `yaml:"cache_dir,omitempty"`
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Default returns the default configuration.
func Default() *Config {
	cacheDir := filepath.Join(os.TempDir(), "quill-cache")
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "quill")
	}
	return &Config{
		LogLevel:        "info",
		MaxPartialDepth: compiler.DefaultMaxDepth,
		CacheDir:        cacheDir,
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(b))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from QUILL_LOG_LEVEL, QUILL_MAX_DEPTH and
// QUILL_CACHE_DIR.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if val := getenv("QUILL_LOG_LEVEL"); val != "" {
		c.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if val := getenv("QUILL_MAX_DEPTH"); val != "" {
		depth, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("QUILL_MAX_DEPTH: %w", err)
		}
		c.MaxPartialDepth = depth
	}
	if val := getenv("QUILL_CACHE_DIR"); val != "" {
		c.CacheDir = val
	}
	return nil
}

func (c *Config) Validate() error {
	if c.MaxPartialDepth < 1 {
		return fmt.Errorf("max_partial_depth must be positive, got %d", c.MaxPartialDepth)
	}
	return v.All(
		v.MatchesAllowed(c.LogLevel, logLevels, "log_level"),
		v.NotEmpty(c.CacheDir, "cache_dir"),
	)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
