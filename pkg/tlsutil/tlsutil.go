// Package tlsutil builds crypto/tls configurations for the NATS connection and the window feed.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// ServerConfig holds TLS settings for a listening endpoint.
type ServerConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	// Client certificate verification. Empty ClientCAFiles leaves mTLS off.
	ClientCAFiles     []string `json:"client_ca_files,omitempty" yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty" yaml:"allowed_client_cns,omitempty"`
}

// Validate checks that an enabled server config names its key pair.
func (c ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: tls cert_file and key_file are required", errors.ErrInvalidConfig),
			"tlsutil", "Validate", "server key pair")
	}
	if err := validateVersion(c.MinVersion); err != nil {
		return err
	}
	if c.RequireClientCert && len(c.ClientCAFiles) == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: require_client_cert needs client_ca_files", errors.ErrInvalidConfig),
			"tlsutil", "Validate", "client verification")
	}
	return nil
}

// ClientConfig holds TLS settings for an outgoing connection. The system CA pool is always
// trusted; CAFiles are added to it.
type ClientConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // testing only
}

// Enabled reports whether any client TLS setting is present.
func (c ClientConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.CertFile != "" || c.KeyFile != "" || c.MinVersion != "" || c.InsecureSkipVerify
}

// Validate checks that the client key pair is given as a pair.
func (c ClientConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(fmt.Errorf("%w: tls cert_file and key_file must be given together", errors.ErrInvalidConfig),
			"tlsutil", "Validate", "client key pair")
	}
	return validateVersion(c.MinVersion)
}

// LoadServerConfig returns nil when TLS is disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}
	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs, err := loadPool(x509.NewCertPool(), cfg.ClientCAFiles, "LoadServerConfig")
	if err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}
	return tlsConfig, nil
}

// LoadClientConfig builds a client tls.Config on top of the system CA pool.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	rootCAs, err = loadPool(rootCAs, cfg.CAFiles, "LoadClientConfig")
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func loadPool(pool *x509.CertPool, files []string, method string) (*x509.CertPool, error) {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", method, fmt.Sprintf("read CA file %s", caFile))
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", method,
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	return pool, nil
}

func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leaf := chains[0][0]
	for _, cn := range allowedCNs {
		if leaf.Subject.CommonName == cn {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", leaf.Subject.CommonName)
}

func validateVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: tls min_version %q (want 1.2 or 1.3)", errors.ErrInvalidConfig, version),
		"tlsutil", "Validate", "min version")
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
