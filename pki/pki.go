// Package pki builds the private CA hierarchy used by certmint: RSA key
// generation, a self-signed root authority, an intermediate authority signed
// by the root, and certificate signing requests carrying subject alternative
// names. All artifacts are plain x509 values; PEM encoding lives in codec.go.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/awheeler/certmint/internal/util"
)

var (
	// ErrCrypto is returned when key generation or a signing operation
	// fails, including CSRs whose self-signature does not verify.
	ErrCrypto = errors.New("cryptographic operation failed")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")
)

// MinKeyLength is the smallest RSA modulus accepted for new keys.
const MinKeyLength = 512

// GenerateKey generates a new RSA private key of the requested bit length.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyLength {
		return nil, fmt.Errorf("%w: unsupported key length %d (minimum %d)", ErrCrypto, bits, MinKeyLength)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generating %d-bit RSA key: %v", ErrCrypto, bits, err)
	}
	return key, nil
}

// SignatureAlgorithm maps a digest name from the settings layer to the RSA
// x509 signature algorithm using that digest.
func SignatureAlgorithm(digest string) (x509.SignatureAlgorithm, error) {
	switch strings.ToLower(digest) {
	case "", "sha256":
		return x509.SHA256WithRSA, nil
	case "sha384":
		return x509.SHA384WithRSA, nil
	case "sha512":
		return x509.SHA512WithRSA, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("%w: unsupported digest algorithm %q", ErrCrypto, digest)
	}
}

// NewSelfSignedRoot builds a self-signed root CA certificate for key. The
// serial number is random and non-zero so that regenerated hierarchies never
// collide with an earlier root of the same name.
func NewSelfSignedRoot(key *rsa.PrivateKey, commonName string, notAfter time.Time, digest string) (*x509.Certificate, error) {
	sigAlg, err := SignatureAlgorithm(digest)
	if err != nil {
		return nil, err
	}
	serial, err := util.RandomSerial()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    sigAlg,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating root certificate: %v", ErrCrypto, err)
	}
	return x509.ParseCertificate(der)
}

// IntermediateRequest holds the parameters for signing an intermediate CA
// certificate from a CSR.
type IntermediateRequest struct {
	CSR      *x509.CertificateRequest
	NotAfter time.Time
	Digest   string

	// AltNames is a normalized SAN string ("DNS:a, IP:1.2.3.4"); the
	// subjectAltName extension is attached only when it is non-empty.
	AltNames string

	// MaxPathLen restricts how many further CAs the intermediate may sign.
	// The default of zero marks the certificate with pathlen:0.
	MaxPathLen int
}

// SignIntermediate validates the CSR's self-signature and issues an
// intermediate CA certificate: subject from the CSR, issuer from rootCert,
// CA basic constraints with path length zero unless overridden.
func SignIntermediate(rootKey *rsa.PrivateKey, rootCert *x509.Certificate, req IntermediateRequest) (*x509.Certificate, error) {
	if req.CSR == nil {
		return nil, fmt.Errorf("%w: nil CSR", ErrCrypto)
	}
	if err := req.CSR.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: CSR signature does not verify: %v", ErrCrypto, err)
	}
	sigAlg, err := SignatureAlgorithm(req.Digest)
	if err != nil {
		return nil, err
	}
	serial, err := util.RandomSerial()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	dnsNames, ipAddrs, err := parseAltNames(req.AltNames)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               req.CSR.Subject,
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              req.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            req.MaxPathLen,
		MaxPathLenZero:        req.MaxPathLen == 0,
		SignatureAlgorithm:    sigAlg,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, req.CSR.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing intermediate certificate: %v", ErrCrypto, err)
	}
	return x509.ParseCertificate(der)
}

// NewCSR builds a certificate signing request for commonName, signed by key.
// A subjectAltName attribute is attached only when altNames is non-empty;
// downstream tooling inspects the attribute count, so an empty string must
// produce a CSR with no requested extensions at all.
func NewCSR(commonName string, key *rsa.PrivateKey, altNames string) (*x509.CertificateRequest, error) {
	dnsNames, ipAddrs, err := parseAltNames(altNames)
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: commonName},
		SignatureAlgorithm: x509.SHA256WithRSA,
		DNSNames:           dnsNames,
		IPAddresses:        ipAddrs,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating CSR for %q: %v", ErrCrypto, commonName, err)
	}
	return x509.ParseCertificateRequest(der)
}

// parseAltNames splits a normalized SAN string into DNS names and IP
// addresses. An empty string yields no names of either kind.
func parseAltNames(altNames string) ([]string, []net.IP, error) {
	if altNames == "" {
		return nil, nil, nil
	}
	var dnsNames []string
	var ipAddrs []net.IP
	for _, entry := range strings.Split(altNames, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "IP:"):
			ip := net.ParseIP(strings.TrimPrefix(entry, "IP:"))
			if ip == nil {
				return nil, nil, fmt.Errorf("%w: invalid IP alt name %q", ErrCrypto, entry)
			}
			ipAddrs = append(ipAddrs, ip)
		case strings.HasPrefix(entry, "DNS:"):
			dnsNames = append(dnsNames, strings.TrimPrefix(entry, "DNS:"))
		default:
			dnsNames = append(dnsNames, entry)
		}
	}
	return dnsNames, ipAddrs, nil
}
