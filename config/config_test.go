package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a fresh directory so stray .env or barberhub.yaml files
// do not leak into the test.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 25*time.Second, cfg.KeepAlive)
	assert.Equal(t, "sse", cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 10_000, cfg.SeenCapacity)
	assert.Empty(t, cfg.ConfigFile)

	_, err = cfg.Secret()
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoad_EnvironmentAndFile(t *testing.T) {
	dir := chdir(t)

	yaml := "addr: \":9090\"\npoll_interval: 10s\ntransport: websocket\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "barberhub.yaml"), []byte(yaml), 0o600))
	t.Setenv("HUB_ADDR", ":7070")
	t.Setenv("HUB_JWT_SECRET", "s3cret")
	t.Setenv("HUB_SERVER_URL", "https://push.example.com/")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr, "environment beats the config file")
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, "websocket", cfg.Transport)
	assert.Equal(t, "https://push.example.com", cfg.ServerURL)
	assert.Contains(t, cfg.ConfigFile, "barberhub.yaml")

	secret, err := cfg.Secret()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), secret)
}

func TestLoad_EnvFiles(t *testing.T) {
	dir := chdir(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HUB_REDIS_ADDR=redis:6379\nHUB_RATE_BURST=3\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("HUB_REDIS_ADDR=local:6379\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("HUB_REDIS_ADDR")
		_ = os.Unsetenv("HUB_RATE_BURST")
	})

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "local:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RateBurst)
}

func TestLoad_Errors(t *testing.T) {
	chdir(t)

	_, err := Load(New(), "missing.yaml")
	assert.Error(t, err)

	t.Setenv("HUB_TRANSPORT", "carrier-pigeon")
	_, err = Load(New(), "")
	assert.Error(t, err)
}

func TestConfig_Logging(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json", LogOutput: "stdout"}
	lc := cfg.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "stdout", lc.Output)
}
