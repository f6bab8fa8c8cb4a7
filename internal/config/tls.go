package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TemporalTLS builds the worker's Temporal client TLS config. It returns
// nil, nil when no client certificate is configured.
func (c *Config) TemporalTLS() (*tls.Config, error) {
	if c.TemporalTLSCert == "" && c.TemporalTLSKey == "" {
		return nil, nil
	}
	cfg, err := clientTLS("temporal", c.TemporalTLSCert, c.TemporalTLSKey, c.TemporalTLSCACert)
	if err != nil {
		return nil, err
	}
	cfg.ServerName = c.TemporalTLSServerName
	return cfg, nil
}

// AgentTLS builds the node agent's TLS config for talking to the fleet API
// when it is served under a private CA. It returns nil, nil when the system
// roots should be used.
func (c *Config) AgentTLS() (*tls.Config, error) {
	if c.FleetAPICACert == "" {
		return nil, nil
	}
	return clientTLS("fleet api", "", "", c.FleetAPICACert)
}

func clientTLS(name, certFile, keyFile, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load %s client cert: %w", name, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read %s CA cert: %w", name, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse %s CA cert: no certificates found", name)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
