// Package config loads fanout configuration from defaults, a YAML file,
// FANOUT_* environment variables and command-line overrides.
package config
