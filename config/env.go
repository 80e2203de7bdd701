package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read at startup.
const (
	// EnvPluginPaths lists extra directories scanned for backend fixtures,
	// separated by the OS path list separator.
	EnvPluginPaths = "ENGRAMIC_PLUGIN_PATHS"
	// EnvRepoRoot is the root folder scanned for repository directories.
	EnvRepoRoot = "REPO_ROOT"
	// EnvLocalStorageRoot overrides where persistent stores write.
	EnvLocalStorageRoot = "LOCAL_STORAGE_ROOT_PATH"
	// EnvJWTSecret signs and verifies websocket access tokens.
	EnvJWTSecret = "JWT_SECRET_KEY"
	// EnvOpenAIKey authenticates the OpenAI backend.
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// LoadDotEnv loads a .env file into the process environment if one exists.
// Existing variables are not overwritten.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// RepoRoot returns the configured repository root, or "" when unset.
func RepoRoot() string {
	return os.Getenv(EnvRepoRoot)
}

// LocalStorageRoot resolves the persistent storage root: the config value
// wins, then LOCAL_STORAGE_ROOT_PATH, then a local_storage dir under cwd.
func LocalStorageRoot(cfg *Config) string {
	if cfg != nil && cfg.Storage.LocalRoot != "" {
		return cfg.Storage.LocalRoot
	}
	if root := os.Getenv(EnvLocalStorageRoot); root != "" {
		return root
	}
	return "local_storage"
}

// PluginPaths returns the extra fixture directories from the environment.
func PluginPaths() []string {
	raw := os.Getenv(EnvPluginPaths)
	if raw == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(raw, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// JWTSecret returns the websocket signing secret. A missing secret is a
// ConfigError because the gateway cannot authenticate without it.
func JWTSecret() (string, error) {
	secret := os.Getenv(EnvJWTSecret)
	if secret == "" {
		return "", NewConfigError("%s is not set", EnvJWTSecret)
	}
	return secret, nil
}
