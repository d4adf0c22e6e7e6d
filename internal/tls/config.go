package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// Modes for serving the control API
const (
	ModeNone       = "none"
	ModeProvided   = "provided"
	ModeSelfSigned = "self-signed"
)

// Config holds TLS configuration settings
type Config struct {
	Mode     string
	CertFile string
	KeyFile  string
	CertsDir string
	// Hosts are the DNS names and IPs a self-signed certificate is issued for
	Hosts []string
}

// Enabled reports whether the API should be served over TLS
func (c *Config) Enabled() bool {
	return c.Mode != "" && c.Mode != ModeNone
}

// Validate checks the mode and fills in default file names under CertsDir
func (c *Config) Validate() error {
	switch c.Mode {
	case "", ModeNone:
		return nil
	case ModeProvided, ModeSelfSigned:
	default:
		return fmt.Errorf("unsupported TLS mode: %s", c.Mode)
	}
	if c.CertFile == "" {
		c.CertFile = filepath.Join(c.CertsDir, "server.crt")
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.CertsDir, "server.key")
	}
	return nil
}

// LoadTLSConfig creates the server TLS configuration, generating a self-signed certificate
// first when the mode asks for one and none exists yet.
func (c *Config) LoadTLSConfig() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, nil
	}
	debug.Info("Loading TLS configuration (mode %s)", c.Mode)

	if c.Mode == ModeSelfSigned && !(checkFileExists(c.CertFile) && checkFileExists(c.KeyFile)) {
		if err := os.MkdirAll(filepath.Dir(c.CertFile), 0750); err != nil {
			return nil, fmt.Errorf("failed to create certs directory: %w", err)
		}
		if err := GenerateSelfSigned(c.CertFile, c.KeyFile, c.Hosts); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate and key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// checkFileExists checks if a file exists and is not a directory
func checkFileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
