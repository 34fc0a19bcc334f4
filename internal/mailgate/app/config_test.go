package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "memory", cfg.MailProvider)
	require.Equal(t, 30*time.Minute, cfg.TokenTTL)
	require.Equal(t, 3*time.Second, cfg.GateCacheTTL)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
port: 9090
token_ttl: 15m
mail:
  provider: ses
  default_sender: svc@example.com
  ses:
    region: ap-southeast-2
housekeeping:
  audit_retention: 720h
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 15*time.Minute, cfg.TokenTTL)
	require.Equal(t, "ses", cfg.MailProvider)
	require.Equal(t, "svc@example.com", cfg.DefaultSender)
	require.Equal(t, "ap-southeast-2", cfg.SESRegion)
	require.Equal(t, 720*time.Hour, cfg.AuditRetention)

	// File leaves untouched fields at their defaults.
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nenv: prod\n"), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("MAIL_PROVIDER", "memory")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "memory", cfg.MailProvider)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [nonsense"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
