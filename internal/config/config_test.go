package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Port != 18080 {
		t.Errorf("Port = %d, want 18080", cfg.Port)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.ProjectDir = "/work/project"

	if got, want := cfg.DBPath(), "/work/project/.swapgate/rotation.db"; got != want {
		t.Errorf("DBPath = %q, want %q", got, want)
	}
	if got, want := cfg.LogPath(), "/work/project/.swapgate/proxy.log"; got != want {
		t.Errorf("LogPath = %q, want %q", got, want)
	}
	cfg.LogFile = "/tmp/other.log"
	if got := cfg.LogPath(); got != "/tmp/other.log" {
		t.Errorf("LogPath override = %q", got)
	}
	if got, want := cfg.FilePath(), "/work/project/.swapgate/swapgate.yaml"; got != want {
		t.Errorf("FilePath = %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapgate.yaml")
	content := `
intercept_hosts:
  - API.Example.com
  - second.example.com
credential_header: x-api-key
credential_scheme: ""
max_retries: 0
shutdown_grace: 500ms
log:
  max_bytes: 1024
upstream:
  dns: 127.0.0.1:5353
  proxy: socks5://127.0.0.1:1080
  port: 8443
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path, true); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(cfg.InterceptHosts) != 2 || cfg.InterceptHosts[0] != "api.example.com" {
		t.Errorf("InterceptHosts = %v", cfg.InterceptHosts)
	}
	if cfg.CredentialHeader != "x-api-key" || cfg.CredentialScheme != "" {
		t.Errorf("credential header = %q scheme = %q", cfg.CredentialHeader, cfg.CredentialScheme)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", cfg.MaxRetries)
	}
	if cfg.ShutdownGrace != 500*time.Millisecond {
		t.Errorf("ShutdownGrace = %v", cfg.ShutdownGrace)
	}
	if cfg.LogMaxBytes != 1024 {
		t.Errorf("LogMaxBytes = %d", cfg.LogMaxBytes)
	}
	if cfg.UpstreamDNS != "127.0.0.1:5353" || cfg.UpstreamProxy != "socks5://127.0.0.1:1080" || cfg.UpstreamPort != 8443 {
		t.Errorf("upstream = %q %q %d", cfg.UpstreamDNS, cfg.UpstreamProxy, cfg.UpstreamPort)
	}
	if cfg.HealthPath != DefaultHealthPath {
		t.Errorf("HealthPath = %q, want default", cfg.HealthPath)
	}
}

func TestLoadFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg := Default()
	if err := cfg.LoadFile(path, false); err != nil {
		t.Errorf("optional missing file: %v", err)
	}
	if err := cfg.LoadFile(path, true); err == nil {
		t.Error("required missing file should fail")
	}
}

func TestLoadFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapgate.yaml")
	if err := os.WriteFile(path, []byte("shutdown_grace: soon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := Default().LoadFile(path, true)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"no hosts", func(c *Config) { c.InterceptHosts = nil }},
		{"wildcard host", func(c *Config) { c.InterceptHosts = []string{"*.example.com"} }},
		{"host with port", func(c *Config) { c.InterceptHosts = []string{"example.com:443"} }},
		{"header", func(c *Config) { c.CredentialHeader = "bad header" }},
		{"retries", func(c *Config) { c.MaxRetries = -1 }},
		{"health path", func(c *Config) { c.HealthPath = "health" }},
		{"grace", func(c *Config) { c.ShutdownGrace = 0 }},
		{"upstream port", func(c *Config) { c.UpstreamPort = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}
