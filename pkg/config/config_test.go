package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiskit/aegis/pkg/observability"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Identity.AccessTokenTTL)
	assert.Equal(t, 5, cfg.Identity.MaxFailedAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Authz.CacheTTL)
	assert.Equal(t, 100, cfg.Audit.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.Audit.FlushInterval)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
identity:
  signingSecret: file-secret
  maxFailedAttempts: 3
  lockoutDuration: 30m
audit:
  bufferSize: 50
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-secret", cfg.Identity.SigningSecret)
	assert.Equal(t, 3, cfg.Identity.MaxFailedAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Identity.LockoutDuration)
	assert.Equal(t, 50, cfg.Audit.BufferSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.Identity.AccessTokenTTL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity:\n  signingSecret: file-secret\n"), 0o600))

	t.Setenv("AEGIS_SIGNING_SECRET", "env-secret")
	t.Setenv("AEGIS_MAX_FAILED_ATTEMPTS", "7")
	t.Setenv("AEGIS_AUDIT_FLUSH_INTERVAL", "10s")
	t.Setenv("AEGIS_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Identity.SigningSecret)
	assert.Equal(t, 7, cfg.Identity.MaxFailedAttempts)
	assert.Equal(t, 10*time.Second, cfg.Audit.FlushInterval)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("AEGIS_MAX_FAILED_ATTEMPTS", "0")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate_RefreshMustOutliveAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Identity.RefreshTokenTTL = cfg.Identity.AccessTokenTTL
	assert.Error(t, cfg.Validate())
}

func TestLogLevel_UnknownFallsBackToInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Observability.LogLevel = "verbose"
	assert.Equal(t, observability.InfoLevel, cfg.LogLevel())
}
