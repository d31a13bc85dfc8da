package pki

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// PEM block types for the artifacts certmint reads and writes.
const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypeRSAKey      = "RSA PRIVATE KEY"
	pemTypePKCS8Key    = "PRIVATE KEY"
	pemTypeCSR         = "CERTIFICATE REQUEST"
	pemTypeCRL         = "X509 CRL"
)

// EncodePrivateKeyPEM encodes an RSA private key as PKCS#1 PEM.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeRSAKey,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ParsePrivateKeyPEM decodes a PEM private key, accepting both PKCS#1
// ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") encodings of RSA keys.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key: %w", ErrInvalidPEM)
	}
	switch block.Type {
	case pemTypeRSAKey:
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemTypePKCS8Key:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("private key: %w: %v", ErrInvalidPEM, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key: %w: unsupported key type %T", ErrInvalidPEM, parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("private key: %w: unexpected block type %q", ErrInvalidPEM, block.Type)
	}
}

// EncodeCertificatePEM encodes a certificate as PEM.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw})
}

// ParseCertificatePEM decodes the first certificate in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, fmt.Errorf("certificate: %w", ErrInvalidPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// ParseCertificateBundlePEM decodes every certificate in a concatenated PEM
// bundle, skipping non-certificate blocks. It fails when no certificate can
// be parsed at all.
func ParseCertificateBundlePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemTypeCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate bundle: %w: %v", ErrInvalidPEM, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("certificate bundle: %w: no certificates found", ErrInvalidPEM)
	}
	return certs, nil
}

// EncodeCSRPEM encodes a certificate signing request as PEM.
func EncodeCSRPEM(csr *x509.CertificateRequest) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCSR, Bytes: csr.Raw})
}

// ParseCSRPEM decodes a PEM certificate signing request.
func ParseCSRPEM(data []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeCSR {
		return nil, fmt.Errorf("CSR: %w", ErrInvalidPEM)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("CSR: %w: %v", ErrInvalidPEM, err)
	}
	return csr, nil
}

// EncodeCRLPEM encodes a DER revocation list as PEM.
func EncodeCRLPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCRL, Bytes: der})
}
