package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/frameprof/internal/constants"
	"github.com/coral-mesh/frameprof/internal/safe"
)

// Loader resolves the configuration directory and loads or saves the
// configuration file inside it.
type Loader struct {
	homeDir string
}

// NewLoader creates a new config loader.
// The base directory is resolved in this order:
//  1. FRAMEPROF_CONFIG environment variable.
//  2. User home directory (~/).
//  3. <tmp>/frameprof-fallback when no home directory exists.
func NewLoader() *Loader {
	if baseDir := os.Getenv(constants.ConfigDirEnv); baseDir != "" {
		return &Loader{homeDir: baseDir}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return &Loader{homeDir: homeDir}
	}
	return &Loader{homeDir: filepath.Join(os.TempDir(), "frameprof-fallback")}
}

// NewLoaderAt creates a loader rooted at baseDir.
func NewLoaderAt(baseDir string) *Loader {
	return &Loader{homeDir: baseDir}
}

// Dir returns the configuration directory (~/.frameprof).
func (l *Loader) Dir() string {
	return filepath.Join(l.homeDir, constants.DefaultDir)
}

// ConfigPath returns the path to the configuration file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.Dir(), constants.ConfigFile)
}

// Resolve returns p unchanged when absolute, otherwise relative to Dir.
func (l *Loader) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Dir(), p)
}

// Load loads the configuration with every layer applied, then validates it.
// path overrides ConfigPath when non-empty.
func (l *Loader) Load(path string, overrides ...Override) (*Config, error) {
	if path == "" {
		path = l.ConfigPath()
	}

	layered := NewLayeredLoader()
	for _, o := range overrides {
		layered.AddOverride(o)
	}
	cfg, err := layered.Load(path)
	if err != nil {
		return nil, err
	}

	cfg.Capture.Dir = l.Resolve(cfg.Capture.Dir)
	cfg.Storage.Path = l.Resolve(cfg.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to ConfigPath.
func (l *Loader) Save(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = SchemaVersion
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = safe.WriteFile(l.ConfigPath(), 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
