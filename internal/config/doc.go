// Package config loads, normalizes, and validates harvest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HARVEST_STORE_DIR. The Config type centralizes every knob the daemon and CLI
// need, so the staging store, collection state, and log directories are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
