package utils

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "5433")
	t.Setenv("PG_USER", "svc")
	t.Setenv("PG_PASSWORD", "p@ss")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	assert.Equal(t, "postgres://svc:p%40ss@db:5433/ipinfo?sslmode=disable", BuildPostgresDSNFromEnv())
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "certs", "server.crt")
	key := filepath.Join(dir, "certs", "server.key")
	require.NoError(t, EnsureSelfSignedCert(cert, key, "ipinfo.local"))
	_, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)

	// 已存在时不重写
	require.NoError(t, EnsureSelfSignedCert(cert, key, "other"))
	_, err = tls.LoadX509KeyPair(cert, key)
	assert.NoError(t, err)
}
