package config

const (
	defaultConfigPath             = "~/.config/harvest/config.toml"
	defaultStoreDir               = "~/.local/share/harvest/store"
	defaultCollectionDir          = "~/.local/share/harvest/collection"
	defaultLogDir                 = "~/.local/share/harvest/logs"
	defaultSourceDir              = "~/.local/share/harvest/exports"
	defaultOutboxDir              = "~/.local/share/harvest/outbox"
	defaultPassIntervalSeconds    = 300
	defaultStaleTempMaxAgeMinutes = 60
	defaultCleanupIntervalSeconds = 900
	defaultDrainMaxRetries        = 5
	defaultMetricsBind            = "127.0.0.1:9478"
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StoreDir:      defaultStoreDir,
			CollectionDir: defaultCollectionDir,
			LogDir:        defaultLogDir,
			SourceDir:     defaultSourceDir,
		},
		Collection: Collection{
			PassIntervalSeconds: defaultPassIntervalSeconds,
		},
		Store: Store{
			StaleTempMaxAgeMinutes: defaultStaleTempMaxAgeMinutes,
			CleanupIntervalSeconds: defaultCleanupIntervalSeconds,
		},
		Drain: Drain{
			OutboxDir:  defaultOutboxDir,
			MaxRetries: defaultDrainMaxRetries,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
