package testsupport

import (
	"path/filepath"
	"testing"

	"harvest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StoreDir = filepath.Join(base, "store")
	cfgVal.Paths.CollectionDir = filepath.Join(base, "collection")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SourceDir = filepath.Join(base, "exports")
	cfgVal.Drain.OutboxDir = filepath.Join(base, "outbox")
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxRetries overrides the drain retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Drain.MaxRetries = n
	}
}

// WithRemoveAfterUpload enables deleting delivered items.
func WithRemoveAfterUpload() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Drain.RemoveAfterUpload = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StoreDir)
}
