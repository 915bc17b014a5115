package helpers

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/frameprof/internal/config"
)

// Persistent flag names registered on the root command.
const (
	ConfigFlag   = "config"
	LogLevelFlag = "log-level"
)

// ConfigPath returns the --config value, or "" when the flag is absent.
func ConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag(ConfigFlag); f != nil {
		return f.Value.String()
	}
	return ""
}

// LoadConfig loads the layered configuration for cmd. An explicit
// --log-level is applied after the command's own overrides.
func LoadConfig(cmd *cobra.Command, overrides ...config.Override) (*config.Config, error) {
	if f := cmd.Flag(LogLevelFlag); f != nil && f.Changed {
		level := f.Value.String()
		overrides = append(overrides, func(c *config.Config) error {
			c.Logging.Level = level
			return nil
		})
	}

	cfg, err := config.NewLoader().Load(ConfigPath(cmd), overrides...)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Output = cmd.ErrOrStderr()
	return cfg, nil
}
