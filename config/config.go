// Package config provides configuration loading and profile resolution for
// the memory engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete runtime configuration.
type Config struct {
	Profile   ProfileConfig   `yaml:"profile"`
	Bus       BusConfig       `yaml:"bus"`
	Storage   StorageConfig   `yaml:"storage"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Sense     SenseConfig     `yaml:"sense"`
	Response  ResponseConfig  `yaml:"response"`
	Repo      RepoConfig      `yaml:"repo"`
}

// ProfileConfig selects the active backend profile.
type ProfileConfig struct {
	// Name is the active profile in the profile file (e.g., "mock", "standard")
	Name string `yaml:"name"`
	// Path is the location of the TOML profile file
	Path string `yaml:"path"`
	// GenerateMockData records every plugin call for later replay
	GenerateMockData bool `yaml:"generate_mock_data"`
}

// BusConfig configures the message bus transport.
type BusConfig struct {
	// Transport selects the bus implementation: "inproc" or "nats"
	Transport string `yaml:"transport"`
	// URL is the NATS server URL, used only by the nats transport
	URL string `yaml:"url"`
}

// StorageConfig configures local persistence roots.
type StorageConfig struct {
	// LocalRoot overrides LOCAL_STORAGE_ROOT_PATH for persistent stores
	LocalRoot string `yaml:"local_root"`
}

// WebSocketConfig configures the streaming relay surface.
type WebSocketConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SenseConfig configures document scanning.
type SenseConfig struct {
	// MaxPages caps how many pages of a document are scanned
	MaxPages int `yaml:"max_pages"`
	// MaxChunkSize is the character budget per engram chunk
	MaxChunkSize int `yaml:"max_chunk_size"`
	// InitialScanPages is how many leading pages feed the initial summary
	InitialScanPages int `yaml:"initial_scan_pages"`
}

// ResponseConfig configures answer generation.
type ResponseConfig struct {
	// HistoryLimit is how many prior exchanges are rendered into the main prompt
	HistoryLimit int `yaml:"history_limit"`
	// StreamTimeout bounds a single streaming completion
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

// RepoConfig configures repository discovery and scanning.
type RepoConfig struct {
	// Root overrides REPO_ROOT as the directory repositories live under
	Root string `yaml:"root"`
	// Ignore holds glob patterns excluded from scans
	Ignore []string `yaml:"ignore"`
	// Watch enables live file watching of discovered repositories
	Watch bool `yaml:"watch"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Profile: ProfileConfig{
			Name: "mock",
			Path: "engram_profiles.toml",
		},
		Bus: BusConfig{
			Transport: "inproc",
		},
		Storage: StorageConfig{
			LocalRoot: "", // Resolved via LOCAL_STORAGE_ROOT_PATH or the data dir
		},
		WebSocket: WebSocketConfig{
			Host: "localhost",
			Port: 8765,
		},
		Sense: SenseConfig{
			MaxPages:         50,
			MaxChunkSize:     1200,
			InitialScanPages: 3,
		},
		Response: ResponseConfig{
			HistoryLimit:  3,
			StreamTimeout: 5 * time.Minute,
		},
		Repo: RepoConfig{
			Ignore: []string{"**/.*", "**/.*/**"},
			Watch:  true,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Profile.Name == "" {
		return NewConfigError("profile.name is required")
	}
	if c.Bus.Transport != "inproc" && c.Bus.Transport != "nats" {
		return NewConfigError("bus.transport must be inproc or nats, got %q", c.Bus.Transport)
	}
	if c.Bus.Transport == "nats" && c.Bus.URL == "" {
		return NewConfigError("bus.url is required for the nats transport")
	}
	if c.Sense.MaxChunkSize <= 0 {
		return NewConfigError("sense.max_chunk_size must be positive")
	}
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		return NewConfigError("websocket.port out of range: %d", c.WebSocket.Port)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Profile.Name != "" {
		c.Profile.Name = other.Profile.Name
	}
	if other.Profile.Path != "" {
		c.Profile.Path = other.Profile.Path
	}
	if other.Profile.GenerateMockData {
		c.Profile.GenerateMockData = true
	}

	if other.Bus.Transport != "" {
		c.Bus.Transport = other.Bus.Transport
	}
	if other.Bus.URL != "" {
		c.Bus.URL = other.Bus.URL
		c.Bus.Transport = "nats"
	}

	if other.Storage.LocalRoot != "" {
		c.Storage.LocalRoot = other.Storage.LocalRoot
	}

	if other.WebSocket.Host != "" {
		c.WebSocket.Host = other.WebSocket.Host
	}
	if other.WebSocket.Port != 0 {
		c.WebSocket.Port = other.WebSocket.Port
	}

	if other.Sense.MaxPages != 0 {
		c.Sense.MaxPages = other.Sense.MaxPages
	}
	if other.Sense.MaxChunkSize != 0 {
		c.Sense.MaxChunkSize = other.Sense.MaxChunkSize
	}
	if other.Sense.InitialScanPages != 0 {
		c.Sense.InitialScanPages = other.Sense.InitialScanPages
	}

	if other.Response.HistoryLimit != 0 {
		c.Response.HistoryLimit = other.Response.HistoryLimit
	}
	if other.Response.StreamTimeout != 0 {
		c.Response.StreamTimeout = other.Response.StreamTimeout
	}

	if other.Repo.Root != "" {
		c.Repo.Root = other.Repo.Root
	}
	if len(other.Repo.Ignore) > 0 {
		c.Repo.Ignore = other.Repo.Ignore
	}
	if other.Repo.Watch {
		c.Repo.Watch = true
	}
}
