// Package tls builds the TLS settings for the raftd listener and for
// outgoing peer calls
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var ErrNoCertificate = errors.New("TLS enabled but no certificate provided and auto-generation disabled")

// LoadServerConfig loads or generates the listener's certificate. It
// returns nil when TLS is disabled.
func LoadServerConfig(cfg *Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
	case cfg.AutoGenerate:
		cert, err = GenerateSelfSignedCert(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
	default:
		return nil, ErrNoCertificate
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion(cfg),
		CipherSuites: SecureCipherSuites(),
	}

	if cfg.CAFile != "" {
		pool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.RequirePeerCerts {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return tlsConfig, nil
}

// LoadClientConfig returns the settings for calling peers: trust CAFile and
// present this node's certificate when peers require one. It returns nil
// when there is nothing to change from the system defaults.
func LoadClientConfig(cfg *Config) (*tls.Config, error) {
	if cfg.CAFile == "" {
		return nil, nil
	}

	pool, err := LoadCAPool(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}
	tlsConfig := &tls.Config{RootCAs: pool, MinVersion: minVersion(cfg)}

	if cfg.RequirePeerCerts && cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func minVersion(cfg *Config) uint16 {
	if cfg.MinVersion < tls.VersionTLS12 {
		return tls.VersionTLS12
	}
	return cfg.MinVersion
}

// LoadCAPool loads a CA certificate pool from a file
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return certPool, nil
}

// GetCertificateInfo returns information about a PEM certificate file
func GetCertificateInfo(certFile string) (*CertificateInfo, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to parse certificate PEM")
	}
	return infoFromDER(block.Bytes)
}

// ServingInfo describes the certificate a server config presents
func ServingInfo(tlsConfig *tls.Config) (*CertificateInfo, error) {
	if tlsConfig == nil || len(tlsConfig.Certificates) == 0 || len(tlsConfig.Certificates[0].Certificate) == 0 {
		return nil, errors.New("no serving certificate")
	}
	return infoFromDER(tlsConfig.Certificates[0].Certificate[0])
}

func infoFromDER(der []byte) (*CertificateInfo, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DNSNames:     cert.DNSNames,
		IsCA:         cert.IsCA,
	}, nil
}
