package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDrain(); err != nil {
		return err
	}
	c.normalizeMetrics()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("HARVEST_STORE_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.StoreDir = strings.TrimSpace(value)
	}
	var err error
	if strings.TrimSpace(c.Paths.StoreDir) == "" {
		c.Paths.StoreDir = defaultStoreDir
	}
	if c.Paths.StoreDir, err = expandPath(c.Paths.StoreDir); err != nil {
		return fmt.Errorf("paths.store_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CollectionDir) == "" {
		c.Paths.CollectionDir = defaultCollectionDir
	}
	if c.Paths.CollectionDir, err = expandPath(c.Paths.CollectionDir); err != nil {
		return fmt.Errorf("paths.collection_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.SourceDir, err = expandPath(strings.TrimSpace(c.Paths.SourceDir)); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDrain() error {
	var err error
	if strings.TrimSpace(c.Drain.OutboxDir) == "" {
		c.Drain.OutboxDir = defaultOutboxDir
	}
	if c.Drain.OutboxDir, err = expandPath(c.Drain.OutboxDir); err != nil {
		return fmt.Errorf("drain.outbox_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
	if value, ok := os.LookupEnv("HARVEST_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Metrics.APIToken = value
	}
	c.Metrics.APIToken = strings.TrimSpace(c.Metrics.APIToken)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "":
		c.Logging.Format = defaultLogFormat
	case "console", "json", "auto":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
