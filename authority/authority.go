// Package authority builds the durable CA hierarchy on disk: a self-signed
// root, an intermediate CA signed by the root, and an initial empty CRL.
// The resulting PEM artifacts are what the trust store and the provisioning
// workflow consume on later invocations.
package authority

import (
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/awnumar/memguard"

	"github.com/awheeler/certmint/pki"
)

// ErrExists is returned when Setup finds an existing hierarchy in the
// target directory. Regenerating over live trust material is never done
// implicitly.
var ErrExists = errors.New("CA hierarchy already exists")

// Artifact file names within the CA directory.
const (
	FileRootKey  = "root.key"
	FileRootCert = "root.crt"
	FileCAKey    = "ca.key"
	FileCACert   = "ca.crt"
	FileCRL      = "ca.crl"
	FileBundle   = "ca_bundle.pem"
)

// Defaults for Setup options left zero.
const (
	DefaultRootName  = "certmint Root CA"
	DefaultCAName    = "certmint CA"
	DefaultKeyLength = 4096
	DefaultRootTTL   = 15 * 365 * 24 * time.Hour
	DefaultCATTL     = 5 * 365 * 24 * time.Hour

	crlValidity = 30 * 24 * time.Hour
)

// Options configures hierarchy setup.
type Options struct {
	RootName  string
	CAName    string
	KeyLength int
	Digest    string
	RootTTL   time.Duration
	CATTL     time.Duration

	// AltNames is an optional normalized SAN string for the intermediate.
	AltNames string

	// Passphrase, when non-nil, seals both private keys at rest with an
	// argon2id-derived AES-GCM envelope. The buffer is not consumed.
	Passphrase *memguard.LockedBuffer
}

func (o *Options) applyDefaults() {
	if o.RootName == "" {
		o.RootName = DefaultRootName
	}
	if o.CAName == "" {
		o.CAName = DefaultCAName
	}
	if o.KeyLength == 0 {
		o.KeyLength = DefaultKeyLength
	}
	if o.RootTTL == 0 {
		o.RootTTL = DefaultRootTTL
	}
	if o.CATTL == 0 {
		o.CATTL = DefaultCATTL
	}
}

// Hierarchy describes a hierarchy present on disk.
type Hierarchy struct {
	Dir      string
	RootCert *x509.Certificate
	CACert   *x509.Certificate
}

// BundlePath returns the trust bundle path within a CA directory.
func BundlePath(dir string) string { return filepath.Join(dir, FileBundle) }

// CRLPath returns the CRL bundle path within a CA directory.
func CRLPath(dir string) string { return filepath.Join(dir, FileCRL) }

// Setup generates the full hierarchy in dir: root key and self-signed root
// certificate, intermediate key, CSR and root-signed intermediate
// certificate (path length zero), an initial empty CRL signed by the
// intermediate, and the concatenated trust bundle. It refuses to overwrite
// an existing hierarchy.
func Setup(dir string, opts Options) (*Hierarchy, error) {
	opts.applyDefaults()

	if _, err := os.Stat(filepath.Join(dir, FileRootCert)); err == nil {
		return nil, fmt.Errorf("%w in %s", ErrExists, dir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating CA directory: %w", err)
	}

	now := time.Now().UTC()

	rootKey, err := pki.GenerateKey(opts.KeyLength)
	if err != nil {
		return nil, err
	}
	rootCert, err := pki.NewSelfSignedRoot(rootKey, opts.RootName, now.Add(opts.RootTTL), opts.Digest)
	if err != nil {
		return nil, err
	}

	caKey, err := pki.GenerateKey(opts.KeyLength)
	if err != nil {
		return nil, err
	}
	caCSR, err := pki.NewCSR(opts.CAName, caKey, "")
	if err != nil {
		return nil, err
	}
	caCert, err := pki.SignIntermediate(rootKey, rootCert, pki.IntermediateRequest{
		CSR:      caCSR,
		NotAfter: now.Add(opts.CATTL),
		Digest:   opts.Digest,
		AltNames: opts.AltNames,
	})
	if err != nil {
		return nil, err
	}

	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: now,
		NextUpdate: now.Add(crlValidity),
	}, caCert, caKey)
	if err != nil {
		return nil, fmt.Errorf("creating initial CRL: %w", err)
	}

	rootKeyPEM, err := wrapKey(pki.EncodePrivateKeyPEM(rootKey), opts.Passphrase, FileRootKey)
	if err != nil {
		return nil, err
	}
	caKeyPEM, err := wrapKey(pki.EncodePrivateKeyPEM(caKey), opts.Passphrase, FileCAKey)
	if err != nil {
		return nil, err
	}

	rootCertPEM := pki.EncodeCertificatePEM(rootCert)
	caCertPEM := pki.EncodeCertificatePEM(caCert)
	bundle := append(append([]byte{}, caCertPEM...), rootCertPEM...)

	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{FileRootKey, rootKeyPEM, 0o600},
		{FileRootCert, rootCertPEM, 0o644},
		{FileCAKey, caKeyPEM, 0o600},
		{FileCACert, caCertPEM, 0o644},
		{FileCRL, pki.EncodeCRLPEM(crlDER), 0o644},
		{FileBundle, bundle, 0o644},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, f.perm); err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	return &Hierarchy{Dir: dir, RootCert: rootCert, CACert: caCert}, nil
}

// Load reads an existing hierarchy's certificates from dir.
func Load(dir string) (*Hierarchy, error) {
	rootPEM, err := os.ReadFile(filepath.Join(dir, FileRootCert))
	if err != nil {
		return nil, fmt.Errorf("reading root certificate: %w", err)
	}
	rootCert, err := pki.ParseCertificatePEM(rootPEM)
	if err != nil {
		return nil, err
	}
	caPEM, err := os.ReadFile(filepath.Join(dir, FileCACert))
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	caCert, err := pki.ParseCertificatePEM(caPEM)
	if err != nil {
		return nil, err
	}
	return &Hierarchy{Dir: dir, RootCert: rootCert, CACert: caCert}, nil
}
