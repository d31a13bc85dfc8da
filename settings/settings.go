// Package settings carries the resolved configuration the core packages
// consume. File-based settings resolution is owned by the caller; this
// package only defines the fields, their defaults, and the base endpoint
// URL derivation.
package settings

import (
	"fmt"
	"time"
)

// Default values for fields left zero.
const (
	DefaultPort        = 8140
	DefaultAPIEndpoint = "puppet-ca"
	DefaultAPIVersion  = "v1"
	DefaultKeyLength   = 4096
	DefaultDigest      = "sha256"
	DefaultTimeout     = 30 * time.Second
)

// Settings is the configuration surface of one invocation. Field names
// follow the settings-file keys they come from.
type Settings struct {
	// Remote CA endpoint.
	Server      string
	Port        int
	APIEndpoint string
	APIVersion  string

	// Trust material for validating the CA service.
	LocalCACert           string // CA bundle path (localcacert)
	CertificateRevocation string // "ignore", "leaf" or "chain"
	HostCRL               string // CRL bundle path (hostcrl)

	// Local identity presented to the CA service.
	HostCert    string // client certificate path (hostcert)
	HostPrivKey string // client private key path (hostprivkey)

	// Certificate generation.
	KeyLength       int
	DigestAlgorithm string
	DNSAltNames     string // settings-file SAN string (dns_alt_names)

	// Where saved certificates and their keys land.
	CertDir       string
	PrivateKeyDir string

	// InventoryPath, when non-empty, enables the bbolt inventory.
	InventoryPath string

	Timeout time.Duration
}

// WithDefaults returns a copy of s with zero fields replaced by defaults.
func (s Settings) WithDefaults() Settings {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.APIEndpoint == "" {
		s.APIEndpoint = DefaultAPIEndpoint
	}
	if s.APIVersion == "" {
		s.APIVersion = DefaultAPIVersion
	}
	if s.KeyLength == 0 {
		s.KeyLength = DefaultKeyLength
	}
	if s.DigestAlgorithm == "" {
		s.DigestAlgorithm = DefaultDigest
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}

// BaseURL returns the CA service base endpoint:
// https://<server>:<port>/<endpoint>/<version>.
func (s Settings) BaseURL() string {
	return fmt.Sprintf("https://%s:%d/%s/%s", s.Server, s.Port, s.APIEndpoint, s.APIVersion)
}
