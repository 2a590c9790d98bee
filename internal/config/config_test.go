package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(t))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 64*1024, cfg.MaxMessageBytes)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 30, cfg.ConnectsPerMin)
	assert.Equal(t, float64(50), cfg.MsgsPerSec)
	assert.Equal(t, 2000, cfg.MaxConnections)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.NotifyToken)
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := Load(newFlagSet(t,
		"--addr", ":9999",
		"--log-level", "debug",
		"--idle-timeout", "30s",
		"--allowed-origins", "https://a.example,https://b.example",
	))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadEnvFallback(t *testing.T) {
	t.Setenv("FERRY_ADDR", ":4444")
	t.Setenv("FERRY_LOG_LEVEL", "warn")
	t.Setenv("FERRY_NOTIFY_TOKEN", "s3cret")

	cfg, err := Load(newFlagSet(t))
	require.NoError(t, err)

	assert.Equal(t, ":4444", cfg.Addr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.NotifyToken)
}

func TestFlagBeatsEnv(t *testing.T) {
	t.Setenv("FERRY_ADDR", ":4444")

	cfg, err := Load(newFlagSet(t, "--addr", ":5555"))
	require.NoError(t, err)
	assert.Equal(t, ":5555", cfg.Addr)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(newFlagSet(t, "--addr", ""))
	assert.Error(t, err)

	_, err = Load(newFlagSet(t, "--max-message-bytes", "-1"))
	assert.Error(t, err)

	_, err = Load(newFlagSet(t, "--msgs-per-sec", "-5"))
	assert.Error(t, err)
}
