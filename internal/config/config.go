// Package config holds the proxy's runtime settings and on-disk layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for unusable settings.
var ErrInvalid = errors.New("invalid configuration")

// Defaults.
const (
	DefaultPort             = 18080
	DefaultUpstreamPort     = 443
	DefaultCredentialHeader = "Authorization"
	DefaultCredentialScheme = "Bearer"
	DefaultUsageHeader      = "anthropic-ratelimit-unified-5h-utilization"
	DefaultMaxRetries       = 2
	DefaultHealthPath       = "/__swapgate/health"
	DefaultShutdownGrace    = 3 * time.Second
	DefaultLogMaxBytes      = 5 << 20

	stateDirName = ".swapgate"
	dbFileName   = "rotation.db"
	logFileName  = "proxy.log"
	fileName     = "swapgate.yaml"
)

// DefaultInterceptHosts is the allow-list used when none is configured.
var DefaultInterceptHosts = []string{"api.anthropic.com"}

type Config struct {
	Port       int
	ProjectDir string
	CertDir    string

	InterceptHosts   []string
	UpstreamPort     int
	CredentialHeader string
	CredentialScheme string
	UsageHeader      string
	MaxRetries       int
	HealthPath       string
	ShutdownGrace    time.Duration

	UpstreamDNS   string
	UpstreamProxy string

	LogFile     string
	LogMaxBytes int64
}

func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		ProjectDir:       ".",
		CertDir:          DefaultCertDir(),
		InterceptHosts:   append([]string(nil), DefaultInterceptHosts...),
		UpstreamPort:     DefaultUpstreamPort,
		CredentialHeader: DefaultCredentialHeader,
		CredentialScheme: DefaultCredentialScheme,
		UsageHeader:      DefaultUsageHeader,
		MaxRetries:       DefaultMaxRetries,
		HealthPath:       DefaultHealthPath,
		ShutdownGrace:    DefaultShutdownGrace,
		LogMaxBytes:      DefaultLogMaxBytes,
	}
}

// DefaultCertDir returns ~/.swapgate/certs, or a relative fallback when
// the home directory is unknown.
func DefaultCertDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(stateDirName, "certs")
	}
	return filepath.Join(home, stateDirName, "certs")
}

// StateDir is the per-project directory holding the store and event log.
func (c *Config) StateDir() string { return filepath.Join(c.ProjectDir, stateDirName) }

// DBPath is the rotation store database location.
func (c *Config) DBPath() string { return filepath.Join(c.StateDir(), dbFileName) }

// LogPath is the event log location.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.StateDir(), logFileName)
}

// FilePath is the default optional YAML config location.
func (c *Config) FilePath() string { return filepath.Join(c.StateDir(), fileName) }

type fileConfig struct {
	InterceptHosts   []string `yaml:"intercept_hosts"`
	CredentialHeader string   `yaml:"credential_header"`
	CredentialScheme *string  `yaml:"credential_scheme"`
	UsageHeader      string   `yaml:"usage_header"`
	MaxRetries       *int     `yaml:"max_retries"`
	HealthPath       string   `yaml:"health_path"`
	ShutdownGrace    string   `yaml:"shutdown_grace"`
	Log              struct {
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"log"`
	Upstream struct {
		DNS   string `yaml:"dns"`
		Proxy string `yaml:"proxy"`
		Port  int    `yaml:"port"`
	} `yaml:"upstream"`
}

// LoadFile merges the YAML file at path over c. A missing file is not an
// error unless required is set.
func (c *Config) LoadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(fc.InterceptHosts) > 0 {
		c.InterceptHosts = fc.InterceptHosts
	}
	if fc.CredentialHeader != "" {
		c.CredentialHeader = fc.CredentialHeader
	}
	if fc.CredentialScheme != nil {
		c.CredentialScheme = *fc.CredentialScheme
	}
	if fc.UsageHeader != "" {
		c.UsageHeader = fc.UsageHeader
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.HealthPath != "" {
		c.HealthPath = fc.HealthPath
	}
	if fc.ShutdownGrace != "" {
		d, err := time.ParseDuration(fc.ShutdownGrace)
		if err != nil {
			return fmt.Errorf("%w: shutdown_grace: %v", ErrInvalid, err)
		}
		c.ShutdownGrace = d
	}
	if fc.Log.MaxBytes > 0 {
		c.LogMaxBytes = fc.Log.MaxBytes
	}
	if fc.Upstream.DNS != "" {
		c.UpstreamDNS = fc.Upstream.DNS
	}
	if fc.Upstream.Proxy != "" {
		c.UpstreamProxy = fc.Upstream.Proxy
	}
	if fc.Upstream.Port != 0 {
		c.UpstreamPort = fc.Upstream.Port
	}
	return nil
}

// Validate checks the settings and normalizes intercept host names.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if c.UpstreamPort <= 0 || c.UpstreamPort > 65535 {
		return fmt.Errorf("%w: upstream port %d out of range", ErrInvalid, c.UpstreamPort)
	}
	if len(c.InterceptHosts) == 0 {
		return fmt.Errorf("%w: no intercept hosts", ErrInvalid)
	}
	for i, h := range c.InterceptHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" || strings.ContainsAny(h, "*/: ") {
			return fmt.Errorf("%w: intercept host %q must be an exact host name", ErrInvalid, c.InterceptHosts[i])
		}
		c.InterceptHosts[i] = h
	}
	if c.CredentialHeader == "" || strings.ContainsAny(c.CredentialHeader, ": \r\n") {
		return fmt.Errorf("%w: credential header %q", ErrInvalid, c.CredentialHeader)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalid)
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		return fmt.Errorf("%w: health path %q must start with /", ErrInvalid, c.HealthPath)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("%w: shutdown grace must be positive", ErrInvalid)
	}
	if c.ProjectDir == "" {
		return fmt.Errorf("%w: project dir is empty", ErrInvalid)
	}
	if c.CertDir == "" {
		return fmt.Errorf("%w: cert dir is empty", ErrInvalid)
	}
	return nil
}
