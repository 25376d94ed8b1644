// Package certs loads the locally trusted interception certificate and
// serves it to TLS handshakes.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File names inside the certificate directory.
const (
	CAFile     = "ca.pem"
	ServerFile = "server.pem"
	KeyFile    = "server-key.pem"
)

// ErrMissingMaterial is returned when a certificate file is absent.
var ErrMissingMaterial = errors.New("certificate material missing")

// Material is the loaded certificate authority and server key pair.
type Material struct {
	Dir      string
	CA       *x509.Certificate
	Roots    *x509.CertPool
	Server   tls.Certificate
	CertFile string
	KeyFile  string
}

// Load reads the CA and server key pair from dir and checks that the
// server certificate chains to the CA.
func Load(dir string) (*Material, error) {
	m := &Material{
		Dir:      dir,
		CertFile: filepath.Join(dir, ServerFile),
		KeyFile:  filepath.Join(dir, KeyFile),
	}
	caPath := filepath.Join(dir, CAFile)
	for _, p := range []string{caPath, m.CertFile, m.KeyFile} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrMissingMaterial, p)
			}
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
	}

	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA: %w", err)
	}
	block, _ := pem.Decode(caPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("parse CA %s: no certificate block", caPath)
	}
	m.CA, err = x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA: %w", err)
	}
	m.Roots = x509.NewCertPool()
	m.Roots.AddCert(m.CA)

	m.Server, err = tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}
	if m.Server.Leaf == nil {
		m.Server.Leaf, err = x509.ParseCertificate(m.Server.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse server certificate: %w", err)
		}
	}

	intermediates := x509.NewCertPool()
	for _, der := range m.Server.Certificate[1:] {
		if c, err := x509.ParseCertificate(der); err == nil {
			intermediates.AddCert(c)
		}
	}
	_, err = m.Server.Leaf.Verify(x509.VerifyOptions{
		Roots:         m.Roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return nil, fmt.Errorf("server certificate does not chain to CA: %w", err)
	}
	return m, nil
}

// Covers reports whether the server certificate is valid for host.
func (m *Material) Covers(host string) bool {
	return m.Server.Leaf.VerifyHostname(host) == nil
}
