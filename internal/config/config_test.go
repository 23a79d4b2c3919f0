package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.InDelta(t, 50, cfg.Anthropic.RequestsPerMinute, 0.001)
	assert.Equal(t, 4096, cfg.Anthropic.MaxTokens)
	assert.Equal(t, 3, cfg.Anthropic.MaxRetries)
	assert.True(t, cfg.Anthropic.GenerationFallback)
	assert.Equal(t, 50, cfg.Dedup.BatchSize)
	assert.Equal(t, 10, cfg.Dedup.KeepRuns)
	assert.Equal(t, 100, cfg.Retrieval.SimilarityTopK)
	assert.Equal(t, 25, cfg.Retrieval.RandomPoolSize)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: file:curator.db
log:
  level: debug
  format: console
server:
  port: 9090
dedup:
  batch_size: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:curator.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Dedup.BatchSize)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Retrieval.SimilarityTopK)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CURATOR_STORE_DRIVER", "postgres")
	t.Setenv("CURATOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CURATOR_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func validBase() *Config {
	return &Config{
		Store: StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/curator"},
		Anthropic: AnthropicConfig{
			Key:                "sk-ant-key",
			GenerationFallback: true,
		},
		Dedup:     DedupConfig{BatchSize: 50, KeepRuns: 10},
		Retrieval: RetrievalConfig{SimilarityTopK: 100, RandomPoolSize: 25},
		Server:    ServerConfig{Port: 8080},
	}
}

func TestValidateGather(t *testing.T) {
	cfg := validBase()
	assert.NoError(t, cfg.Validate("gather"))

	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("gather")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateDedup(t *testing.T) {
	cfg := validBase()
	assert.NoError(t, cfg.Validate("dedup"))

	cfg.Anthropic.Key = ""
	err := cfg.Validate("dedup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg = validBase()
	cfg.Dedup.BatchSize = 0
	err = cfg.Validate("dedup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dedup.batch_size must be between 1 and 200")

	cfg.Dedup.BatchSize = 201
	assert.Error(t, cfg.Validate("dedup"))
}

func TestValidateSelect_KeyOptionalWithoutFallback(t *testing.T) {
	cfg := validBase()
	cfg.Anthropic.Key = ""

	err := cfg.Validate("select")
	assert.Error(t, err)

	cfg.Anthropic.GenerationFallback = false
	assert.NoError(t, cfg.Validate("select"))
}

func TestValidateServe(t *testing.T) {
	cfg := validBase()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateDriver(t *testing.T) {
	cfg := validBase()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("gather")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validBase()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
