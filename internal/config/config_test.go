package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 0, cfg.RPCPort)
	assert.Equal(t, 24*time.Hour, cfg.ClientTokenTTL)
	assert.Equal(t, FanoutNone, cfg.FanoutDriver)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.False(t, cfg.UsePostgres())
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Equal(t, "chathub", cfg.ServiceName)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chathub.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
JWT_SECRET: from-file
HTTP_PORT: 9000
fanout_driver: nats
CORS_ORIGINS:
  - https://a.example
  - https://b.example
DATABASE_URL: postgres://chat@localhost/chat
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, FanoutNATS, cfg.FanoutDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.UsePostgres())
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FANOUT_DRIVER", "kafka")
	_, err = Load()
	assert.ErrorContains(t, err, "FANOUT_DRIVER")

	t.Setenv("FANOUT_DRIVER", "redis")
	t.Setenv("WS_PING_INTERVAL_MS", "90000")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yml"))
	_, err := Load()
	assert.Error(t, err)
}
