package pki_test

import (
	"crypto/rsa"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/awheeler/certmint/pki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKey generates a small RSA key to keep the suite fast.
func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := pki.GenerateKey(2048)
	require.NoError(t, err)
	return key
}

func TestGenerateKeyRejectsShortModulus(t *testing.T) {
	_, err := pki.GenerateKey(256)
	assert.ErrorIs(t, err, pki.ErrCrypto)
}

func TestSignatureAlgorithm(t *testing.T) {
	alg, err := pki.SignatureAlgorithm("sha256")
	require.NoError(t, err)
	assert.Equal(t, x509.SHA256WithRSA, alg)

	alg, err = pki.SignatureAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, x509.SHA256WithRSA, alg)

	alg, err = pki.SignatureAlgorithm("sha512")
	require.NoError(t, err)
	assert.Equal(t, x509.SHA512WithRSA, alg)

	_, err = pki.SignatureAlgorithm("md5")
	assert.ErrorIs(t, err, pki.ErrCrypto)
}

func TestNewSelfSignedRoot(t *testing.T) {
	key := testKey(t)
	notAfter := time.Now().AddDate(15, 0, 0)

	root, err := pki.NewSelfSignedRoot(key, "Test Root CA", notAfter, "sha256")
	require.NoError(t, err)

	assert.Equal(t, "Test Root CA", root.Subject.CommonName)
	assert.Equal(t, root.Subject.String(), root.Issuer.String())
	assert.True(t, root.IsCA)
	assert.True(t, root.BasicConstraintsValid)
	assert.Positive(t, root.SerialNumber.Sign())
	assert.Equal(t, x509.KeyUsageCertSign|x509.KeyUsageCRLSign, root.KeyUsage)

	// Self-signature must verify against the root's own public key.
	require.NoError(t, root.CheckSignatureFrom(root))
}

func TestNewSelfSignedRootSerialsDoNotCollide(t *testing.T) {
	key := testKey(t)
	notAfter := time.Now().AddDate(1, 0, 0)

	a, err := pki.NewSelfSignedRoot(key, "CA", notAfter, "sha256")
	require.NoError(t, err)
	b, err := pki.NewSelfSignedRoot(key, "CA", notAfter, "sha256")
	require.NoError(t, err)
	assert.NotEqual(t, a.SerialNumber, b.SerialNumber)
}

func TestSignIntermediate(t *testing.T) {
	rootKey := testKey(t)
	root, err := pki.NewSelfSignedRoot(rootKey, "Test Root CA", time.Now().AddDate(15, 0, 0), "sha256")
	require.NoError(t, err)

	caKey := testKey(t)
	csr, err := pki.NewCSR("Test CA", caKey, "")
	require.NoError(t, err)

	intermediate, err := pki.SignIntermediate(rootKey, root, pki.IntermediateRequest{
		CSR:      csr,
		NotAfter: time.Now().AddDate(5, 0, 0),
		Digest:   "sha256",
		AltNames: "DNS:bar.net, IP:123.123.0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Test CA", intermediate.Subject.CommonName)
	assert.Equal(t, root.Subject.String(), intermediate.Issuer.String())
	assert.True(t, intermediate.IsCA)
	assert.True(t, intermediate.MaxPathLenZero)
	require.NoError(t, intermediate.CheckSignatureFrom(root))

	// SAN extension must carry exactly the normalized entries.
	assert.Equal(t, []string{"bar.net"}, intermediate.DNSNames)
	require.Len(t, intermediate.IPAddresses, 1)
	assert.True(t, intermediate.IPAddresses[0].Equal(net.ParseIP("123.123.0.1")))
}

func TestSignIntermediatePathLenOverride(t *testing.T) {
	rootKey := testKey(t)
	root, err := pki.NewSelfSignedRoot(rootKey, "Root", time.Now().AddDate(10, 0, 0), "sha256")
	require.NoError(t, err)

	csr, err := pki.NewCSR("Mid CA", testKey(t), "")
	require.NoError(t, err)

	intermediate, err := pki.SignIntermediate(rootKey, root, pki.IntermediateRequest{
		CSR:        csr,
		NotAfter:   time.Now().AddDate(5, 0, 0),
		MaxPathLen: 1,
	})
	require.NoError(t, err)
	assert.False(t, intermediate.MaxPathLenZero)
	assert.Equal(t, 1, intermediate.MaxPathLen)
}

func TestSignIntermediateRejectsTamperedCSR(t *testing.T) {
	rootKey := testKey(t)
	root, err := pki.NewSelfSignedRoot(rootKey, "Root", time.Now().AddDate(10, 0, 0), "sha256")
	require.NoError(t, err)

	csr, err := pki.NewCSR("victim", testKey(t), "")
	require.NoError(t, err)

	// Corrupt the signature so possession of the key is no longer proven.
	tampered := *csr
	tampered.Signature = append([]byte(nil), csr.Signature...)
	tampered.Signature[0] ^= 0xff

	_, err = pki.SignIntermediate(rootKey, root, pki.IntermediateRequest{
		CSR:      &tampered,
		NotAfter: time.Now().AddDate(5, 0, 0),
	})
	assert.ErrorIs(t, err, pki.ErrCrypto)
}

func TestNewCSRAltNameAttributePresence(t *testing.T) {
	key := testKey(t)

	// Empty SAN string: no requested extensions at all.
	bare, err := pki.NewCSR("agent.example.com", key, "")
	require.NoError(t, err)
	assert.Empty(t, bare.Extensions)
	assert.Empty(t, bare.DNSNames)
	assert.Empty(t, bare.IPAddresses)

	// Non-empty SAN string: exactly one requested extension.
	withSAN, err := pki.NewCSR("agent.example.com", key, "DNS:agent.example.com, DNS:puppet")
	require.NoError(t, err)
	assert.Len(t, withSAN.Extensions, 1)
	assert.Equal(t, []string{"agent.example.com", "puppet"}, withSAN.DNSNames)
	require.NoError(t, withSAN.CheckSignature())
}

func TestNewCSRRejectsInvalidIPAltName(t *testing.T) {
	_, err := pki.NewCSR("agent", testKey(t), "IP:not-an-ip")
	assert.ErrorIs(t, err, pki.ErrCrypto)
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	key := testKey(t)

	data := pki.EncodePrivateKeyPEM(key)
	assert.Contains(t, string(data), "BEGIN RSA PRIVATE KEY")

	parsed, err := pki.ParsePrivateKeyPEM(data)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestParsePrivateKeyPEMRejectsGarbage(t *testing.T) {
	_, err := pki.ParsePrivateKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestParseCertificateBundlePEM(t *testing.T) {
	key := testKey(t)
	root, err := pki.NewSelfSignedRoot(key, "Root", time.Now().AddDate(1, 0, 0), "sha256")
	require.NoError(t, err)

	bundle := append(pki.EncodeCertificatePEM(root), pki.EncodeCertificatePEM(root)...)
	certs, err := pki.ParseCertificateBundlePEM(bundle)
	require.NoError(t, err)
	assert.Len(t, certs, 2)

	_, err = pki.ParseCertificateBundlePEM([]byte("no certs here"))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestCSRPEMRoundTrip(t *testing.T) {
	csr, err := pki.NewCSR("agent", testKey(t), "DNS:agent")
	require.NoError(t, err)

	data := pki.EncodeCSRPEM(csr)
	assert.Contains(t, string(data), "BEGIN CERTIFICATE REQUEST")

	parsed, err := pki.ParseCSRPEM(data)
	require.NoError(t, err)
	assert.Equal(t, "agent", parsed.Subject.CommonName)
	require.NoError(t, parsed.CheckSignature())
}
