package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StoreDir      string `toml:"store_dir"`
	CollectionDir string `toml:"collection_dir"`
	LogDir        string `toml:"log_dir"`
	SourceDir     string `toml:"source_dir"`
}

// Collection contains configuration for passive collection passes.
type Collection struct {
	PassIntervalSeconds int `toml:"pass_interval_seconds"`
}

// Store contains configuration for the staging store housekeeping.
type Store struct {
	StaleTempMaxAgeMinutes int `toml:"stale_temp_max_age_minutes"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`
}

// Drain contains configuration for the reference drain.
type Drain struct {
	OutboxDir         string `toml:"outbox_dir"`
	MaxRetries        int    `toml:"max_retries"`
	RemoveAfterUpload bool   `toml:"remove_after_upload"`
}

// Metrics contains configuration for the daemon HTTP endpoint, which serves
// Prometheus metrics and the JSON status API.
type Metrics struct {
	Enabled  bool   `toml:"enabled"`
	Bind     string `toml:"bind"`
	APIToken string `toml:"api_token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for harvest.
//
// Configuration sections by subsystem:
//   - Paths: staging store, collection state, logs, reference source exports
//   - Collection: passive pass scheduling
//   - Store: stale temp/trash cleanup
//   - Drain: reference drain outbox and retry ceiling
//   - Metrics: Prometheus endpoint and status API
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Collection Collection `toml:"collection"`
	Store      Store      `toml:"store"`
	Drain      Drain      `toml:"drain"`
	Metrics    Metrics    `toml:"metrics"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("harvest.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
// The source directory is created on a best-effort basis since exports may be
// mounted later.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StoreDir, c.Paths.CollectionDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.SourceDir) != "" {
		_ = os.MkdirAll(c.Paths.SourceDir, 0o755)
	}
	return nil
}

// PassInterval returns the passive collection interval.
func (c *Config) PassInterval() time.Duration {
	return time.Duration(c.Collection.PassIntervalSeconds) * time.Second
}

// CleanupInterval returns how often stale store debris is swept.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Store.CleanupIntervalSeconds) * time.Second
}

// StaleTempMaxAge returns the age after which temp and trash entries are removed.
func (c *Config) StaleTempMaxAge() time.Duration {
	return time.Duration(c.Store.StaleTempMaxAgeMinutes) * time.Minute
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "harvest.log")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "harvestd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
