package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "session:\n  secret: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 180*time.Second, cfg.Backend.Timeouts.Chat)
	assert.Equal(t, 120*time.Second, cfg.Backend.Timeouts.History)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeouts.Signup)
	assert.Equal(t, "userEmail", cfg.Session.CookieName)
	assert.Equal(t, 4, cfg.Upload.MaxImages)
}

func TestLoadParsesDurationsAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: "http://backend:9000"
  timeouts:
    chat: 5s
session:
  secret: from-file
`)
	t.Setenv("AGRI_SESSION_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeouts.Chat)
	assert.Equal(t, "from-env", cfg.Session.Secret)
}

func TestLoadRequiresSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"8080\"\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
