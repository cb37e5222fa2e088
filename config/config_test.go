package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/loopmesh/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loopmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Worker.TurnInterval.Std())
	assert.Equal(t, 2*time.Minute, cfg.Worker.GenerationTimeout.Std())
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: file
  dir: /tmp/loops
worker:
  turn_interval: 500ms
  generation_timeout: 30s
models:
  - id: gpt-5
    provider: openai
  - id: o4-nano
    provider: openai
    supports_system: false
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/loops", cfg.Storage.Dir)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.TurnInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Worker.GenerationTimeout.Std())
	// unset fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Worker.JoinTimeout.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Models, 2)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "storage:\n  backened: file\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "worker:\n  turn_interval: soon\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Backend = "file"
	cfg.Storage.Dir = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Models = []ModelConfig{{ID: "x", Provider: "watson"}}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestApplyModels(t *testing.T) {
	noSystem := false
	cfg := Default()
	cfg.Models = []ModelConfig{
		{ID: "gpt-5", Provider: model.ProviderOpenAI},
		{ID: "o4-nano", Provider: model.ProviderOpenAI, SupportsSystem: &noSystem},
	}

	registry := model.NewRegistry()
	cfg.ApplyModels(registry)

	capability, err := registry.Capability("gpt-5")
	require.NoError(t, err)
	assert.True(t, capability.SupportsSystem)

	capability, err = registry.Capability("o4-nano")
	require.NoError(t, err)
	assert.False(t, capability.SupportsSystem)
}
