// Package config loads the blwatch configuration: broker, store and log
// settings from environment variables (with *_FILE secret fallbacks) merged
// with a YAML document carrying the blocklist zone set and ledger options.
package config
