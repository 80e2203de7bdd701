package config

import (
	"os"
	"path/filepath"
)

// ConfigFileName is the default runtime config file name.
const ConfigFileName = "engramic.yaml"

// Loader resolves configuration from layered sources. Later layers take
// precedence: defaults, then the config file, then explicit overrides.
type Loader struct {
	// ConfigPath is an explicit config file path. When empty the loader
	// looks for ConfigFileName in the working directory.
	ConfigPath string
	// Overrides is applied last, on top of file values.
	Overrides *Config
}

// Load resolves the effective configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	path := l.ConfigPath
	if path == "" {
		path = ConfigFileName
	}

	if _, err := os.Stat(path); err == nil {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Merge(fileCfg)
	} else if l.ConfigPath != "" {
		// An explicitly named file must exist.
		return nil, NewConfigError("config file not found: %s", l.ConfigPath)
	}

	cfg.Merge(l.Overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is the common path: dotenv, then the layered loader.
func Load(configPath string, overrides *Config) (*Config, error) {
	cwd, err := os.Getwd()
	if err == nil {
		if err := LoadDotEnv(cwd); err != nil {
			return nil, NewConfigError("failed to load .env: %v", err)
		}
	}

	loader := &Loader{ConfigPath: configPath, Overrides: overrides}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if cfg.Profile.Path != "" && !filepath.IsAbs(cfg.Profile.Path) {
		if cwd != "" {
			cfg.Profile.Path = filepath.Join(cwd, cfg.Profile.Path)
		}
	}
	return cfg, nil
}
