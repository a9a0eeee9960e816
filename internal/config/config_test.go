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
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "custodia-backoffice", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, int64(65536), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, 8*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "custodia_session", cfg.Auth.CookieName)
	assert.True(t, cfg.Auth.CookieSecure)
	assert.Equal(t, 10, cfg.Login.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Login.Window)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.HTTP.TrustedProxies)

	require.Error(t, cfg.Validate(), "missing secret must fail validation")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custodia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: staging
http:
  addr: ":9999"
auth:
  secret: "file-secret-that-is-long-enough-000000"
  token_ttl: 1h
kafka:
  brokers: ["k1:9092", "k2:9092"]
`), 0o600))

	t.Setenv("CUSTODIA_AUTH_ISSUER", "env-issuer")
	t.Setenv("CUSTODIA_LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("CUSTODIA_HTTP_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "env-issuer", cfg.Auth.Issuer)
	assert.Equal(t, 3, cfg.Login.MaxAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.10"}, cfg.HTTP.TrustedProxies)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
}

func TestValidateShortSecret(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Auth.Secret = "short"
	require.Error(t, cfg.Validate())
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitList([]string{"a:1, b:2"}))
	assert.Nil(t, splitList([]string{" "}))
}
