package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"harvest/internal/bridge"
	"harvest/internal/collection"
	"harvest/internal/config"
	"harvest/internal/datastore"
	"harvest/internal/logging"
	"harvest/internal/sources/filesource"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger writes warnings (or info with --verbose) to stderr so command
// output on stdout stays machine readable.
func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := "warn"
		if c.verbose != nil && *c.verbose {
			level = "info"
		}
		format := "auto"
		if c.config != nil {
			format = c.config.Logging.Format
		}
		logger, err := logging.New(logging.Options{Level: level, Format: format, OutputPaths: []string{"stderr"}})
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openStore() (*datastore.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return datastore.Open(cfg.Paths.StoreDir, datastore.WithLogger(c.cliLogger()))
}

// openManager opens the collection manager with the export source and the
// staging bridge. Callers must Close the manager.
func (c *commandContext) openManager(store *datastore.Store) (*collection.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.cliLogger()
	source := filesource.New(cfg.Paths.SourceDir, filesource.WithLogger(logger))
	return collection.Open(cfg.Paths.CollectionDir, source, bridge.New(store, bridge.WithLogger(logger)),
		collection.WithLogger(logger))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
