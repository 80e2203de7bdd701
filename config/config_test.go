package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "inproc", cfg.Bus.Transport)
	assert.Equal(t, 1200, cfg.Sense.MaxChunkSize)
	assert.Equal(t, 3, cfg.Response.HistoryLimit)
}

func TestValidateRejectsBadTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bus.Transport = "carrier-pigeon"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestValidateNATSNeedsURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bus.Transport = "nats"
	require.Error(t, cfg.Validate())

	cfg.Bus.URL = "nats://localhost:4222"
	require.NoError(t, cfg.Validate())
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Profile: ProfileConfig{Name: "standard"},
		Bus:     BusConfig{URL: "nats://remote:4222"},
		Sense:   SenseConfig{MaxChunkSize: 800},
	})

	assert.Equal(t, "standard", base.Profile.Name)
	assert.Equal(t, "nats", base.Bus.Transport, "setting a bus url selects the nats transport")
	assert.Equal(t, 800, base.Sense.MaxChunkSize)
	assert.Equal(t, 50, base.Sense.MaxPages, "unset values keep defaults")
}

func TestLoaderLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engramic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile:\n  name: standard\nsense:\n  max_pages: 10\n"), 0o644))

	loader := &Loader{
		ConfigPath: path,
		Overrides:  &Config{Sense: SenseConfig{MaxPages: 7}},
	}
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "standard", cfg.Profile.Name)
	assert.Equal(t, 7, cfg.Sense.MaxPages, "overrides beat file values")
}

func TestLoaderExplicitMissingFile(t *testing.T) {
	loader := &Loader{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")}
	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
