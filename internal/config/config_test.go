package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// writeECKey generates a throwaway P-256 key and PEM-encodes it, mimicking
// the file LoadServerKey is meant to read.
func writeECKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "server.pem")
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

const minimalConfig = `
database:
  path: ./data.db
server:
  host: 0.0.0.0
  port: 8080
  ecdsa_key_path: ./server.pem
push:
  vapid_subject: "mailto:ops@example.com"
checks:
  - id: 1
    desc: homepage
    type: http
    interval_secs: 30
    url: https://example.com
  - id: 2
    desc: mail
    type: tls
    interval_secs: 300
    host: mail.example.com
    port: 25
    starttls: smtp
`

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	t.Setenv("STATUSWATCH_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Database.BusyTimeoutMillis)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 12, cfg.Push.JWTLifetimeHours)
	require.Equal(t, 86400, cfg.Push.TTLSeconds)
	require.Equal(t, 256, cfg.Push.QueueSize)
	require.Equal(t, 2000, cfg.Checks[0].WarnTimeoutMillis)
	require.Equal(t, 10000, cfg.Checks[0].ErrorTimeoutMillis)
	require.Equal(t, 48, cfg.Checks[1].ExpiryThresholdHours)

	require.Same(t, cfg, Get())
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	t.Setenv("STATUSWATCH_CONFIG", path)
	t.Setenv("STATUSWATCH_DB_PATH", "/override/path.db")
	t.Setenv("STATUSWATCH_SERVER_PORT", "9999")
	t.Setenv("STATUSWATCH_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/override/path.db", cfg.Database.Path)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 8, cfg.Workers)
}

func TestLoad_RejectsDuplicateCheckIDs(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
  - id: 1
    desc: duplicate
    type: http
    url: https://dup.example.com
`)
	t.Setenv("STATUSWATCH_CONFIG", path)

	_, err := Load()
	require.ErrorContains(t, err, "duplicate check id")
}

func TestLoad_RejectsHTTPCheckWithoutURL(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ./data.db
server:
  port: 8080
  ecdsa_key_path: ./server.pem
push:
  vapid_subject: "mailto:ops@example.com"
checks:
  - id: 1
    desc: broken
    type: http
`)
	t.Setenv("STATUSWATCH_CONFIG", path)

	_, err := Load()
	require.ErrorContains(t, err, "requires url")
}

func TestLoad_RejectsNonMailtoSubject(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ./data.db
server:
  port: 8080
  ecdsa_key_path: ./server.pem
push:
  vapid_subject: "https://example.com"
`)
	t.Setenv("STATUSWATCH_CONFIG", path)

	_, err := Load()
	require.ErrorContains(t, err, "mailto:")
}

func TestGet_PanicsWithoutLoad(t *testing.T) {
	globalConfig = nil
	require.Panics(t, func() { Get() })
}

func TestLoadServerKey_RoundTrip(t *testing.T) {
	path := writeECKey(t)
	key, err := LoadServerKey(path)
	require.NoError(t, err)
	require.NotNil(t, key)
}
