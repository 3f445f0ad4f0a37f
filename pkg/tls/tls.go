// Package tls builds server TLS configurations for the detector's HTTP API.
//
// TLS 1.3 is the minimum accepted version. When a CA file is configured the
// server also requires and verifies client certificates (mutual TLS).
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds TLS certificate file paths.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CAFile is optional. When set, clients must present a certificate
	// signed by this CA.
	CAFile string
}

// Validate checks that the configured files exist when TLS is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("tls enabled but cert/key files not specified")
	}

	paths := []string{c.CertFile, c.KeyFile}
	if c.CAFile != "" {
		paths = append(paths, c.CAFile)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file %q: %w", path, err)
		}
	}

	return nil
}

// MutualTLS reports whether client certificates are required.
func (c Config) MutualTLS() bool {
	return c.Enabled && c.CAFile != ""
}

// NewServerTLSConfig creates the server-side TLS configuration.
// The server certificate itself is loaded by http.Server.ListenAndServeTLS;
// this config only carries protocol and client-verification settings.
func NewServerTLSConfig(c Config) (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}

	if !c.MutualTLS() {
		return cfg, nil
	}

	caCert, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}

	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert

	return cfg, nil
}
