package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/kbukum/runflow/errors"
)

// TLSConfig configures TLS for a listener, or for a client dialing one.
type TLSConfig struct {
	// CertFile and KeyFile hold the PEM key pair presented to peers.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`

	// ClientCAFile makes a server require client certificates signed by it.
	ClientCAFile string `yaml:"client_ca_file" mapstructure:"client_ca_file"`

	// CAFile verifies the server certificate on the client side.
	CAFile     string `yaml:"ca_file" mapstructure:"ca_file"`
	ServerName string `yaml:"server_name" mapstructure:"server_name"`

	// MinVersion is "1.2" or "1.3". Defaults to 1.2.
	MinVersion string `yaml:"min_version" mapstructure:"min_version"`
}

// IsEnabled reports whether a listener should serve TLS.
func (c *TLSConfig) IsEnabled() bool {
	return c != nil && c.CertFile != ""
}

// Validate checks that the settings are consistent.
func (c *TLSConfig) Validate() error {
	if c == nil {
		return nil
	}
	if (c.CertFile != "") != (c.KeyFile != "") {
		return errors.InvalidConfig("tls", "cert_file and key_file must be provided together")
	}
	if c.ClientCAFile != "" && c.CertFile == "" {
		return errors.InvalidConfig("tls.client_ca_file", "requires cert_file and key_file")
	}
	if _, err := c.minVersion(); err != nil {
		return err
	}
	return nil
}

func (c *TLSConfig) minVersion() (uint16, error) {
	switch c.MinVersion {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, errors.InvalidConfig("tls.min_version", fmt.Sprintf("must be 1.2 or 1.3 (got: %s)", c.MinVersion))
}

// ServerConfig builds the listener side. It returns nil when TLS is not
// enabled.
func (c *TLSConfig) ServerConfig() (*tls.Config, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	v, _ := c.minVersion()
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   v,
		NextProtos:   []string{"h2", "http/1.1"},
	}
	if c.ClientCAFile != "" {
		pool, err := loadPool(c.ClientCAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig builds the dialing side. The key pair, when set, is sent
// as the client certificate.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	v, _ := c.minVersion()
	cfg := &tls.Config{ServerName: c.ServerName, MinVersion: v}
	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tls: no certificates in %s", path)
	}
	return pool, nil
}
