package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr())
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "btcex", cfg.Database.Database)
	assert.Equal(t, 3, cfg.Database.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Market.SweepInterval)
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "btcexd.toml")

	content := `
[server]
port = 9090
bind_addr = "127.0.0.1"

[database]
database = "btcex_staging"

[market]
sweep_interval = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.ListenAddr())
	assert.Equal(t, "btcex_staging", cfg.Database.Database)
	assert.Equal(t, 30*time.Second, cfg.Market.SweepInterval)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BTCEXD_DATABASE_URL", "postgres://btcex:pw@db.internal/btcex")
	t.Setenv("BTCEXD_SERVER_PORT", "8181")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://btcex:pw@db.internal/btcex", cfg.Database.URL)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/btcexd.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 8080
	cfg.Market.SweepInterval = 0
	assert.Error(t, cfg.Validate())

	cfg.Market.SweepInterval = time.Minute
	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())
}
