package redis

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSOptions Redis TLS 选项（来自 REDIS_TLS / REDIS_CACERT / REDIS_CERT / REDIS_KEY / REDIS_SERVER_NAME）
type TLSOptions struct {
	Enabled    bool
	CACert     string
	Cert       string
	Key        string
	ServerName string
}

// BuildTLSConfig 未启用时返回 nil
func BuildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	if !opts.Enabled {
		return nil, nil
	}

	caCertPath := strings.TrimSpace(opts.CACert)
	certPath := strings.TrimSpace(opts.Cert)
	keyPath := strings.TrimSpace(opts.Key)

	if (certPath == "") != (keyPath == "") {
		return nil, fmt.Errorf("redis tls: cert and key must be set together")
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: strings.TrimSpace(opts.ServerName),
	}

	if caCertPath != "" {
		caBytes, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls: read ca cert: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("redis tls: no valid certificates in %s", caCertPath)
		}
		cfg.RootCAs = pool
	}

	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls: load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
