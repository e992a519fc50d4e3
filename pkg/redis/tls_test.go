package redis

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildTLSConfigDisabled(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil tls config when disabled")
	}
}

func TestBuildTLSConfigCertKeyPair(t *testing.T) {
	_, err := BuildTLSConfig(TLSOptions{Enabled: true, Cert: "/tmp/client.pem"})
	if err == nil {
		t.Fatal("expected error when key is missing")
	}
}

func TestBuildTLSConfigInvalidCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	if _, err := BuildTLSConfig(TLSOptions{Enabled: true, CACert: path}); err == nil {
		t.Fatal("expected error for invalid ca")
	}
}

func TestBuildTLSConfigEnabled(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{Enabled: true, ServerName: " redis.internal "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("MinVersion = %x", cfg.MinVersion)
	}
	if cfg.ServerName != "redis.internal" {
		t.Fatalf("ServerName = %q", cfg.ServerName)
	}
}
