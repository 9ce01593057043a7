// Package config loads the streamer's YAML configuration.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing. Durations use Go syntax ("30s", "1m").
package config
