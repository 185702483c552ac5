package security

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/security/tlstest"
)

func TestIsEnabled(t *testing.T) {
	var nilCfg *TLSConfig
	if nilCfg.IsEnabled() {
		t.Error("nil config enabled")
	}
	if (&TLSConfig{CAFile: "ca.pem"}).IsEnabled() {
		t.Error("CA alone should not enable a listener")
	}
	if !(&TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}).IsEnabled() {
		t.Error("key pair should enable TLS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  TLSConfig
		ok   bool
	}{
		{"empty", TLSConfig{}, true},
		{"pair", TLSConfig{CertFile: "c", KeyFile: "k"}, true},
		{"cert without key", TLSConfig{CertFile: "c"}, false},
		{"key without cert", TLSConfig{KeyFile: "k"}, false},
		{"client CA without pair", TLSConfig{ClientCAFile: "ca"}, false},
		{"tls 1.3", TLSConfig{MinVersion: "1.3"}, true},
		{"tls 1.0", TLSConfig{MinVersion: "1.0"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("err = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestServerConfig_Disabled(t *testing.T) {
	cfg, err := (&TLSConfig{}).ServerConfig()
	if err != nil || cfg != nil {
		t.Errorf("cfg = %v, err = %v", cfg, err)
	}
}

func TestServerConfig(t *testing.T) {
	certs := tlstest.Generate(t)
	c := &TLSConfig{CertFile: certs.CertFile, KeyFile: certs.KeyFile, MinVersion: "1.3"}
	cfg, err := c.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("certs = %d, min version = %x", len(cfg.Certificates), cfg.MinVersion)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("client auth = %v", cfg.ClientAuth)
	}

	c.ClientCAFile = certs.CAFile
	cfg, err = c.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig with client CA: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil {
		t.Errorf("mTLS not configured: %v", cfg.ClientAuth)
	}
}

func TestServerConfig_BadFiles(t *testing.T) {
	certs := tlstest.Generate(t)
	missing := filepath.Join(t.TempDir(), "missing.pem")
	tests := []struct {
		name string
		cfg  TLSConfig
	}{
		{"missing key pair", TLSConfig{CertFile: missing, KeyFile: missing}},
		{"missing client CA", TLSConfig{CertFile: certs.CertFile, KeyFile: certs.KeyFile, ClientCAFile: missing}},
		{"invalid client CA", TLSConfig{CertFile: certs.CertFile, KeyFile: certs.KeyFile, ClientCAFile: tlstest.WriteInvalidPEM(t, "ca.pem")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.cfg.ServerConfig(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	certs := tlstest.Generate(t)
	c := &TLSConfig{CAFile: certs.CAFile, CertFile: certs.CertFile, KeyFile: certs.KeyFile, ServerName: "localhost"}
	cfg, err := c.ClientConfig()
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 1 || cfg.ServerName != "localhost" {
		t.Errorf("client config = %+v", cfg)
	}
	if _, err := (&TLSConfig{CAFile: tlstest.WriteInvalidPEM(t, "ca.pem")}).ClientConfig(); err == nil {
		t.Error("expected an error for an invalid CA file")
	}
}
