// Package config implements the 'frameprof config' command family.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/frameprof/internal/cli/helpers"
	"github.com/coral-mesh/frameprof/internal/config"
	"github.com/coral-mesh/frameprof/internal/constants"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage frameprof configuration",
		Long: `Manage frameprof configuration.

Configuration is layered, each layer overriding the previous one:
  1. Built-in defaults
  2. Config file (~/.frameprof/config.yaml, or --config)
  3. FRAMEPROF_* environment variables
  4. Command-line flags

Environment Variables:
  FRAMEPROF_CONFIG  Override the base directory holding .frameprof/`,
	}

	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newPathCmd())
	cmd.AddCommand(newEnvCmd())

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

type validationRow struct {
	Field   string `json:"field" yaml:"field" header:"FIELD"`
	Message string `json:"message" yaml:"message" header:"PROBLEM"`
}

func newValidateCmd() *cobra.Command {
	var (
		format   string
		fileOnly bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Load every configuration layer and report each invalid field.

Exits with an error when any field is invalid. Use --file-only to check
the file without FRAMEPROF_* environment overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, format, fileOnly)
		},
	}

	cmd.Flags().BoolVar(&fileOnly, "file-only", false, "ignore environment overrides")

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
		helpers.FormatYAML,
	})

	return cmd
}

func runValidate(cmd *cobra.Command, format string, fileOnly bool) error {
	path := helpers.ConfigPath(cmd)
	if path == "" {
		path = config.NewLoader().ConfigPath()
	}

	layered := config.NewLayeredLoader()
	if fileOnly {
		layered.DisableLayer(config.LayerEnv)
	}
	cfg, err := layered.Load(path)
	if err != nil {
		return err
	}

	rows := []validationRow{}
	if verr := cfg.Validate(); verr != nil {
		var multi *config.MultiValidationError
		if !errors.As(verr, &multi) {
			return verr
		}
		for _, e := range multi.Errors {
			rows = append(rows, validationRow{Field: e.Field, Message: e.Message})
		}
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 && format == string(helpers.FormatTable) {
		_, _ = fmt.Fprintf(out, "Configuration is valid (layers: %v)\n", layered.Applied())
		return nil
	}

	formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
	if err != nil {
		return err
	}
	if err := formatter.Format(rows, out); err != nil {
		return err
	}
	if len(rows) > 0 {
		return fmt.Errorf("configuration has %d invalid fields", len(rows))
	}
	return nil
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			path := loader.ConfigPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			if err := loader.Save(config.Default()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration and data paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Config dir:  %s\n", loader.Dir())
			_, _ = fmt.Fprintf(out, "Config file: %s\n", loader.ConfigPath())
			_, _ = fmt.Fprintf(out, "Captures:    %s\n", loader.Resolve(constants.DefaultCaptureDir))
			_, _ = fmt.Fprintf(out, "History:     %s\n", loader.Resolve(constants.DefaultHistoryDatabase))
			return nil
		},
	}
}

type envRow struct {
	Variable string `json:"variable" yaml:"variable" header:"VARIABLE"`
	Field    string `json:"field" yaml:"field" header:"FIELD"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty" header:"VALUE"`
}

func newEnvCmd() *cobra.Command {
	var (
		format  string
		setOnly bool
	)

	cmd := &cobra.Command{
		Use:   "env",
		Short: "List the FRAMEPROF_* environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := []envRow{}
			for _, ev := range config.EnvVars(config.Default()) {
				if setOnly && !ev.Set {
					continue
				}
				rows = append(rows, envRow{Variable: ev.Name, Field: ev.Field, Value: ev.Value})
			}
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(rows, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
		helpers.FormatYAML,
	})
	cmd.Flags().BoolVar(&setOnly, "set", false, "only list variables set in the environment")
	return cmd
}
