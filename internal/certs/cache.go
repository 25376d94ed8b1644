package certs

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/caddyserver/certmagic"
	"go.uber.org/zap"
)

// Cache serves the interception certificate by SNI from a certmagic
// cache. Certificates are unmanaged: nothing is ever issued or renewed.
type Cache struct {
	cache    *certmagic.Cache
	config   *certmagic.Config
	fallback *tls.Certificate
	logger   *zap.Logger
}

// NewCache caches the server certificate of m. storage may be nil, in
// which case certmagic's default file storage is used.
func NewCache(ctx context.Context, m *Material, storage certmagic.Storage, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{fallback: &m.Server, logger: logger}
	c.cache = certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certmagic.Certificate) (*certmagic.Config, error) {
			return c.config, nil
		},
		Logger: logger,
	})
	c.config = certmagic.New(c.cache, certmagic.Config{
		Storage: storage,
		Logger:  logger,
	})

	hash, err := c.config.CacheUnmanagedCertificatePEMFile(ctx, m.CertFile, m.KeyFile, []string{"interception"})
	if err != nil {
		c.cache.Stop()
		return nil, fmt.Errorf("cache server certificate: %w", err)
	}
	logger.Debug("cached interception certificate",
		zap.String("hash", hash),
		zap.Strings("names", m.Server.Leaf.DNSNames),
	)
	return c, nil
}

// TLSConfig returns the server-side configuration for intercepted tunnels.
// Clients are offered HTTP/1.1 only, since requests are relayed as raw
// HTTP/1.1 messages.
func (c *Cache) TLSConfig() *tls.Config {
	base := c.config.TLSConfig()
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := base.GetCertificate(hello)
			if err != nil || cert == nil {
				c.logger.Debug("serving fallback certificate", zap.String("sni", hello.ServerName), zap.NamedError("lookup", err))
				return c.fallback, nil
			}
			return cert, nil
		},
	}
}

// Stop ends the cache's maintenance goroutine.
func (c *Cache) Stop() {
	c.cache.Stop()
}
