package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/mqtt-rpc/config"
)

type sampleConfig struct {
	Name string `env:"NAME" yaml:"name" validate:"required"`
	Port int    `env:"PORT" yaml:"port" envDefault:"1883"`
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("NAME", "demo")
	t.Setenv("PORT", "8883")

	cfg, err := config.LoadEnv[sampleConfig]()
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.Name)
	require.Equal(t, 8883, cfg.Port)
}

func TestLoadEnvValidationFailure(t *testing.T) {
	os.Unsetenv("NAME")
	_, err := config.LoadEnv[sampleConfig]()
	require.Error(t, err)
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: demo\nport: 1883\n"), 0o600))

	cfg, err := config.LoadFile[sampleConfig](path)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.Name)
	require.Equal(t, 1883, cfg.Port)
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"demo\""), 0o600))

	_, err := config.LoadFile[sampleConfig](path)
	require.Error(t, err)
}
