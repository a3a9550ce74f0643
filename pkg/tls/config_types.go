package tls

import (
	"crypto/tls"
	"time"
)

// Config holds TLS configuration options
type Config struct {
	Enabled  bool   // Serve HTTPS
	CertFile string // Path to certificate file
	KeyFile  string // Path to private key file
	CAFile   string // CA that signed the peers' certificates

	// Used when CertFile/KeyFile are not set
	AutoGenerate bool          // Generate a self-signed certificate at startup
	Hosts        []string      // Hostnames/IPs for the generated certificate
	Organization string        // Organization name for the generated certificate
	ValidFor     time.Duration // Validity of the generated certificate (default 1 year)

	MinVersion uint16 // Minimum TLS version (default TLS 1.2)
	// RequirePeerCerts makes the listener demand a certificate signed by
	// CAFile from every client
	RequirePeerCerts bool
}

// DefaultConfig returns a secure TLS configuration with recommended defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		Organization: "cluso-raft",
		ValidFor:     365 * 24 * time.Hour,
		MinVersion:   tls.VersionTLS12,
	}
}

// CertificateInfo holds certificate metadata
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	DNSNames     []string
	IsCA         bool
}

// IsExpired checks if the certificate has expired
func (ci *CertificateInfo) IsExpired() bool {
	return time.Now().After(ci.NotAfter)
}

// ExpiresIn returns the time until certificate expiration
func (ci *CertificateInfo) ExpiresIn() time.Duration {
	return time.Until(ci.NotAfter)
}

// SecureCipherSuites returns the TLS 1.2 suites allowed alongside TLS 1.3.
// TLS 1.3 suites are not configurable in crypto/tls.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	}
}
