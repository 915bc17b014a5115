// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".frameprof"

	// ConfigDirEnv overrides the configuration directory.
	ConfigDirEnv = "FRAMEPROF_CONFIG"

	DefaultHistoryDatabase = "history.duckdb"

	DefaultCaptureDir = "captures"

	DefaultInspectAddr = "127.0.0.1:7070"
)
