package tls

import (
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledByDefault(t *testing.T) {
	c := &Config{}
	assert.False(t, c.Enabled())
	cfg, err := c.LoadTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSelfSignedIsGeneratedOnce(t *testing.T) {
	dir := t.TempDir()
	c := &Config{Mode: ModeSelfSigned, CertsDir: filepath.Join(dir, "certs"), Hosts: []string{"localhost", "127.0.0.1"}}

	cfg, err := c.LoadTLSConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, filepath.Join(dir, "certs", "server.crt"), c.CertFile)

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	again, err := c.LoadTLSConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.Certificates[0].Certificate[0], again.Certificates[0].Certificate[0])
}

func TestProvidedRequiresFiles(t *testing.T) {
	c := &Config{Mode: ModeProvided, CertsDir: t.TempDir()}
	_, err := c.LoadTLSConfig()
	assert.Error(t, err)

	assert.Error(t, (&Config{Mode: "certbot"}).Validate())
}
