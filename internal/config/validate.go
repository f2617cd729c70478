package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateDrain(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StoreDir) == "" {
		return errors.New("paths.store_dir must be set")
	}
	if strings.TrimSpace(c.Paths.CollectionDir) == "" {
		return errors.New("paths.collection_dir must be set")
	}
	if filepath.Clean(c.Paths.StoreDir) == filepath.Clean(c.Paths.CollectionDir) {
		return errors.New("paths.store_dir and paths.collection_dir must differ")
	}
	return nil
}

func (c *Config) validateIntervals() error {
	return ensurePositiveMap(map[string]int{
		"collection.pass_interval_seconds": c.Collection.PassIntervalSeconds,
		"store.stale_temp_max_age_minutes": c.Store.StaleTempMaxAgeMinutes,
		"store.cleanup_interval_seconds":   c.Store.CleanupIntervalSeconds,
	})
}

func (c *Config) validateDrain() error {
	if c.Drain.MaxRetries < 0 {
		return errors.New("drain.max_retries must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
