// Package config manages the .ormbridge directory and client configuration:
// the backends a process talks to and where each persists its store state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/ormbridge/ormbridge-go/internal/persist"
)

const (
	ConfigDir  = ".ormbridge"
	ConfigFile = "config"

	DriverBbolt  = "bbolt"
	DriverSqlite = "sqlite"
)

// Backend describes one remote API and its local persistence.
type Backend struct {
	ConfigKey    string `toml:"config_key"`
	BaseURL      string `toml:"base_url"`
	Driver       string `toml:"driver"`        // bbolt (default) or sqlite
	DatabaseFile string `toml:"database_file"` // relative to the .ormbridge directory
}

// Config is the client configuration.
type Config struct {
	DefaultBackend string    `toml:"default_backend"`
	Backends       []Backend `toml:"backends"`
	path           string    // path to the .ormbridge directory
}

// envOverrides apply on top of the default backend's file settings.
// Prefixed ORMBRIDGE_, e.g. ORMBRIDGE_BASE_URL.
type envOverrides struct {
	BaseURL      string `envconfig:"BASE_URL"`
	Driver       string `envconfig:"DRIVER"`
	DatabaseFile string `envconfig:"DATABASE_FILE"`
}

// FindRoot finds the .ormbridge directory by walking up from the current
// directory.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(dir, ConfigDir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not an ormbridge project (or any parent up to root)")
		}
		dir = parent
	}
}

// Load reads the configuration from the nearest .ormbridge directory and
// applies environment overrides to the default backend.
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom reads the configuration from the given .ormbridge directory.
func LoadFrom(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = root

	var env envOverrides
	if err := envconfig.Process("ormbridge", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if b := cfg.defaultBackend(); b != nil {
		if env.BaseURL != "" {
			b.BaseURL = env.BaseURL
		}
		if env.Driver != "" {
			b.Driver = env.Driver
		}
		if env.DatabaseFile != "" {
			b.DatabaseFile = env.DatabaseFile
		}
	}

	return &cfg, nil
}

// Save writes the configuration to disk.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .ormbridge directory.
func (c *Config) Path() string {
	return c.path
}

// Backend returns the backend with the given config key. An empty key
// resolves the default backend.
func (c *Config) Backend(configKey string) (*Backend, bool) {
	if configKey == "" {
		b := c.defaultBackend()
		return b, b != nil
	}
	for i := range c.Backends {
		if c.Backends[i].ConfigKey == configKey {
			return &c.Backends[i], true
		}
	}
	return nil, false
}

func (c *Config) defaultBackend() *Backend {
	if len(c.Backends) == 0 {
		return nil
	}
	if c.DefaultBackend != "" {
		for i := range c.Backends {
			if c.Backends[i].ConfigKey == c.DefaultBackend {
				return &c.Backends[i]
			}
		}
	}
	return &c.Backends[0]
}

// DatabasePath returns the absolute path of the backend's database file.
func (c *Config) DatabasePath(b *Backend) string {
	file := b.DatabaseFile
	if file == "" {
		file = b.ConfigKey + ".db"
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.path, file)
}

// OpenBackend opens the persistence backend configured for b.
func (c *Config) OpenBackend(b *Backend) (persist.Backend, error) {
	switch b.Driver {
	case "", DriverBbolt:
		return persist.OpenBbolt(c.DatabasePath(b))
	case DriverSqlite:
		return persist.OpenSqlite(c.DatabasePath(b))
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", b.Driver)
	}
}

// Initialize creates a new .ormbridge directory with one configured backend.
func Initialize(configKey, baseURL string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root := filepath.Join(cwd, ConfigDir)
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("ormbridge project already exists")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create %s directory: %w", ConfigDir, err)
	}

	cfg := &Config{
		DefaultBackend: configKey,
		Backends: []Backend{{
			ConfigKey: configKey,
			BaseURL:   baseURL,
			Driver:    DriverBbolt,
		}},
		path: root,
	}

	if err := cfg.Save(); err != nil {
		os.RemoveAll(root)
		return nil, err
	}
	return cfg, nil
}
