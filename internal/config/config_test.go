package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

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

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "UF_CRM_1634787828", cfg.CRM.CodeField)
	assert.Equal(t, "UF_CRM_1635903069", cfg.CRM.SegmentField)
	assert.Equal(t, "UF_CRM_1651251237102", cfg.CRM.CoordField)
	assert.Equal(t, "UF_CRM_1638457710", cfg.CRM.ExcludeField)
	assert.Equal(t, []string{"921", "3135"}, cfg.CRM.ExcludeCodes)
	assert.Equal(t, 5, cfg.CRM.CacheTTLMinutes)
	assert.Equal(t, 5*time.Minute, cfg.CRM.CacheTTL())
	assert.Equal(t, 900, cfg.Ledger.ChunkSize)
	assert.Equal(t, 3, cfg.Ledger.Concurrency)
	assert.Equal(t, int32(10), cfg.Ledger.MaxConns)
	assert.Equal(t, "sqlite", cfg.Ops.Driver)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
crm:
  webhook_url: https://example.bitrix24.es/rest/1/abc
ops:
  driver: postgres
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.bitrix24.es/rest/1/abc", cfg.CRM.WebhookURL)
	assert.Equal(t, "postgres", cfg.Ops.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 900, cfg.Ledger.ChunkSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
ops:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CLIENT360_OPS_DRIVER", "sqlite")
	t.Setenv("CLIENT360_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Ops.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CLIENT360_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.CRM.WebhookURL = "https://example.bitrix24.es/rest/1/abc"
	cfg.CRM.CodeField = "UF_CRM_1634787828"
	cfg.Ledger.ChunkSize = 900
	cfg.Ledger.Concurrency = 3
	cfg.Ops.Driver = "sqlite"
	cfg.Ops.DatabaseURL = "client360.db"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_MissingWebhook(t *testing.T) {
	cfg := validDefaults()
	cfg.CRM.WebhookURL = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "crm.webhook_url is required")
}

func TestValidateMigrate(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Ops.DatabaseURL = ""
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ops.database_url is required")
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Ops.Driver = "mysql"

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ops.driver must be postgres or sqlite")
}

func TestValidateChunkBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Ledger.ChunkSize = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.chunk_size must be > 0")

	cfg.Ledger.ChunkSize = 900
	cfg.Ledger.Concurrency = 0
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.concurrency must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
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
