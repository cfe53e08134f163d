package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  read_timeout: 45s
database:
  driver: sqlite
  sqlite:
    path: /tmp/test-tasks.db
queue:
  stream: "test:stream"
events:
  subscriber_buffer: 16
  retention: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/tmp/test-tasks.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "test:stream", cfg.Queue.Stream)
	assert.Equal(t, 16, cfg.Events.SubscriberBuffer)
	assert.Equal(t, time.Hour, cfg.Events.Retention)
	// Untouched sections keep defaults.
	assert.Equal(t, "fs", cfg.ObjectStore.Driver)
	assert.Equal(t, int64(64<<20), cfg.Server.MaxUploadBytes)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("DOCSTREAM_PORT", "7070")
	t.Setenv("DOCSTREAM_API_KEY", "secret-token")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MINIO_SECURE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret-token", cfg.Auth.APIKey)
	assert.Equal(t, "redis.internal:6380", cfg.Queue.Redis.Addr)
	assert.True(t, cfg.ObjectStore.Minio.Secure)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown db driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown object store", func(c *Config) { c.ObjectStore.Driver = "s3" }},
		{"empty stream", func(c *Config) { c.Queue.Stream = "" }},
		{"zero subscriber buffer", func(c *Config) { c.Events.SubscriberBuffer = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
