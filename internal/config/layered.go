package config

import (
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/frameprof/internal/safe"
)

// Layer represents a configuration layer source.
type Layer string

const (
	// LayerDefaults represents default configuration values.
	LayerDefaults Layer = "defaults"

	// LayerFile represents configuration from a file.
	LayerFile Layer = "file"

	// LayerEnv represents configuration from environment variables.
	LayerEnv Layer = "env"

	// LayerFlags represents configuration from command-line flags.
	LayerFlags Layer = "flags"
)

// Override mutates a loaded configuration. Command-line flags are applied
// through overrides so they win over every other layer.
type Override func(*Config) error

// LayeredLoader loads configuration in order defaults, file, environment,
// flags. Each layer overrides values from previous layers.
type LayeredLoader struct {
	enabledLayers map[Layer]bool
	overrides     []Override
	applied       []Layer
}

// NewLayeredLoader creates a loader with every layer enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
			LayerFlags:    true,
		},
	}
}

// DisableLayer disables a specific configuration layer.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// AddOverride registers a flags-layer override.
func (l *LayeredLoader) AddOverride(o Override) {
	l.overrides = append(l.overrides, o)
}

// Applied returns the layers that contributed to the last Load.
func (l *LayeredLoader) Applied() []Layer {
	return append([]Layer(nil), l.applied...)
}

// Load builds the configuration. A missing file at configPath is not an
// error; the file layer is skipped.
func (l *LayeredLoader) Load(configPath string) (*Config, error) {
	l.applied = l.applied[:0]

	cfg := &Config{}
	if l.enabledLayers[LayerDefaults] {
		cfg = Default()
		l.applied = append(l.applied, LayerDefaults)
	}

	if l.enabledLayers[LayerFile] && configPath != "" {
		err := mergeFromFile(cfg, configPath)
		switch {
		case err == nil:
			l.applied = append(l.applied, LayerFile)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
		l.applied = append(l.applied, LayerEnv)
	}

	if l.enabledLayers[LayerFlags] && len(l.overrides) > 0 {
		for _, o := range l.overrides {
			if err := o(cfg); err != nil {
				return nil, fmt.Errorf("failed to apply flags: %w", err)
			}
		}
		l.applied = append(l.applied, LayerFlags)
	}

	return cfg, nil
}

// mergeFromFile decodes a YAML file over cfg.
func mergeFromFile(cfg *Config, filePath string) error {
	data, err := safe.ReadFile(filePath, nil)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}
