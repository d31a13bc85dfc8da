// Package truststore loads a CA bundle and optional CRL bundle into an
// in-memory verification store. The store drives server-certificate
// validation for the mutual-TLS transport, including revocation checks that
// crypto/tls does not perform on its own.
package truststore

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/awheeler/certmint/pki"
)

// ErrConfiguration is returned when trust material is missing or malformed.
// A build either produces a complete store or fails; partial stores are
// never returned.
var ErrConfiguration = errors.New("invalid trust configuration")

// ErrRevoked is returned by verification when a certificate in the chain
// appears on a CRL.
var ErrRevoked = errors.New("certificate has been revoked")

// RevocationMode selects how strictly CRLs are enforced during chain
// verification.
type RevocationMode string

const (
	// RevocationIgnore disables CRL checking entirely.
	RevocationIgnore RevocationMode = "ignore"
	// RevocationLeaf checks only the leaf certificate. This is the default.
	RevocationLeaf RevocationMode = "leaf"
	// RevocationChain checks every certificate in the verified chain.
	RevocationChain RevocationMode = "chain"
)

// ParseRevocationMode maps a settings value to a RevocationMode. The
// settings layer historically spells "leaf" as boolean true and "ignore" as
// false, so those spellings are accepted too.
func ParseRevocationMode(s string) (RevocationMode, error) {
	switch s {
	case "", "true", string(RevocationLeaf):
		return RevocationLeaf, nil
	case "false", string(RevocationIgnore):
		return RevocationIgnore, nil
	case string(RevocationChain):
		return RevocationChain, nil
	default:
		return "", fmt.Errorf("%w: unknown certificate_revocation value %q", ErrConfiguration, s)
	}
}

// Store is an immutable verification context: trusted roots plus zero or
// more CRLs and a revocation-checking mode. Built once per invocation.
type Store struct {
	mode  RevocationMode
	roots []*x509.Certificate
	pool  *x509.CertPool
	crls  []*x509.RevocationList
}

// Build loads every certificate in bundlePath as a trusted root and, unless
// mode is RevocationIgnore, every CRL block in crlPath. A malformed CRL
// block fails the whole build.
func Build(bundlePath string, mode RevocationMode, crlPath string) (*Store, error) {
	bundle, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA bundle: %v", ErrConfiguration, err)
	}
	roots, err := pki.ParseCertificateBundlePEM(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: CA bundle %s: %v", ErrConfiguration, bundlePath, err)
	}

	pool := x509.NewCertPool()
	for _, cert := range roots {
		pool.AddCert(cert)
	}

	store := &Store{mode: mode, roots: roots, pool: pool}
	if mode == RevocationIgnore {
		return store, nil
	}

	crlData, err := os.ReadFile(crlPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CRL bundle: %v", ErrConfiguration, err)
	}
	blocks, err := splitCRLBlocks(crlData)
	if err != nil {
		return nil, fmt.Errorf("%w: CRL bundle %s: %v", ErrConfiguration, crlPath, err)
	}
	for _, block := range blocks {
		crl, err := x509.ParseRevocationList(block)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing CRL from %s: %v", ErrConfiguration, crlPath, err)
		}
		store.crls = append(store.crls, crl)
	}
	return store, nil
}

// Mode returns the store's revocation-checking mode.
func (s *Store) Mode() RevocationMode { return s.mode }

// Pool returns the trusted root pool.
func (s *Store) Pool() *x509.CertPool { return s.pool }

// CRLCount returns the number of CRLs loaded into the store.
func (s *Store) CRLCount() int { return len(s.crls) }

// Verify checks rawCerts (the DER chain a TLS peer presented) against the
// store: chain building to a trusted root, host-name match when dnsName is
// non-empty, then revocation per the store's mode. Suitable for use from a
// tls.Config VerifyPeerCertificate callback.
func (s *Store) Verify(rawCerts [][]byte, dnsName string) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("peer presented no certificates")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parsing peer certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	chains, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         s.pool,
		Intermediates: intermediates,
		DNSName:       dnsName,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("verifying peer certificate chain: %w", err)
	}

	switch s.mode {
	case RevocationIgnore:
		return nil
	case RevocationChain:
		chain := chains[0]
		for i, cert := range chain {
			issuer := chain[len(chain)-1] // self-issued root checks itself
			if i+1 < len(chain) {
				issuer = chain[i+1]
			}
			if err := s.checkRevocation(cert, issuer); err != nil {
				return err
			}
		}
		return nil
	default: // RevocationLeaf
		chain := chains[0]
		issuer := chain[0]
		if len(chain) > 1 {
			issuer = chain[1]
		}
		return s.checkRevocation(chain[0], issuer)
	}
}

// checkRevocation tests cert against every CRL issued by its issuer. A CRL
// whose signature does not verify or whose next-update time has passed is
// rejected rather than silently trusted. No CRL for the issuer means no
// revocation information, which passes.
func (s *Store) checkRevocation(cert, issuer *x509.Certificate) error {
	now := time.Now()
	for _, crl := range s.crls {
		if !bytes.Equal(crl.RawIssuer, cert.RawIssuer) {
			continue
		}
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			return fmt.Errorf("CRL signature for issuer %q does not verify: %w", issuer.Subject.CommonName, err)
		}
		if !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate) {
			return fmt.Errorf("CRL for issuer %q is stale (next update %s)", issuer.Subject.CommonName, crl.NextUpdate.Format(time.RFC3339))
		}
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("%w: %q (serial %s)", ErrRevoked, cert.Subject.CommonName, cert.SerialNumber)
			}
		}
	}
	return nil
}
