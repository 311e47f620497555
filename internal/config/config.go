// Package config loads server settings from the environment.
//
// Settings come from LARGE_IMAGE_MCP_* variables. A .env file, if present, is
// read first; variables already set in the environment take precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ironsheep/large-image-mcp/internal/imaging"
	"github.com/ironsheep/large-image-mcp/internal/viewer"
)

// Environment variable names.
const (
	EnvLogLevel         = "LARGE_IMAGE_MCP_LOG_LEVEL"
	EnvCacheDir         = "LARGE_IMAGE_MCP_CACHE_DIR"
	EnvBudgetBytes      = "LARGE_IMAGE_MCP_BUDGET_BYTES"
	EnvTileSize         = "LARGE_IMAGE_MCP_TILE_SIZE"
	EnvPrefetchMargin   = "LARGE_IMAGE_MCP_PREFETCH_MARGIN"
	EnvWorkers          = "LARGE_IMAGE_MCP_WORKERS"
	EnvPreviewSize      = "LARGE_IMAGE_MCP_PREVIEW_SIZE"
	EnvExpiredRetention = "LARGE_IMAGE_MCP_EXPIRED_RETENTION"
)

// Config holds the server settings.
type Config struct {
	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string

	// CacheDir is the disk cache directory for imported images.
	CacheDir string

	// PreviewSize is the longest preview edge in pixels.
	PreviewSize int

	// Viewer is passed to every viewer the server creates.
	Viewer viewer.Config
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		CacheDir:    defaultCacheDir(),
		PreviewSize: imaging.DefaultPreviewSize,
		Viewer:      viewer.DefaultConfig(),
	}
}

// Load reads the given .env files, or ".env" when none are given, and then the
// environment. Missing files are skipped.
//
// Load always returns a usable Config. Values that do not parse keep their
// defaults and are reported together in the returned error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	var errs []error
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", f, err))
		}
	}

	cfg := Default()
	if v := os.Getenv(EnvLogLevel); v != "" {
		switch level := strings.ToLower(strings.TrimSpace(v)); level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			errs = append(errs, fmt.Errorf("%s: unknown level %q", EnvLogLevel, v))
		}
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.CacheDir = v
	}

	readInt(EnvPreviewSize, 1, &cfg.PreviewSize, &errs)
	readInt(EnvTileSize, 16, &cfg.Viewer.TileSize, &errs)
	readInt(EnvPrefetchMargin, 0, &cfg.Viewer.PrefetchMargin, &errs)
	readInt(EnvWorkers, 1, &cfg.Viewer.Workers, &errs)
	readInt(EnvExpiredRetention, 0, &cfg.Viewer.ExpiredRetention, &errs)

	if v := os.Getenv(EnvBudgetBytes); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("%s: invalid byte count %q", EnvBudgetBytes, v))
		} else {
			cfg.Viewer.BudgetBytes = n
		}
	}

	return cfg, errors.Join(errs...)
}

// readInt sets *dst from the variable name if it holds an integer >= min.
func readInt(name string, min int, dst *int, errs *[]error) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		*errs = append(*errs, fmt.Errorf("%s: invalid value %q (minimum %d)", name, v, min))
		return
	}
	*dst = n
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "large-image-mcp")
	}
	return filepath.Join(os.TempDir(), "large-image-mcp")
}
