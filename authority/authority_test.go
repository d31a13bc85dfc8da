package authority_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awheeler/certmint/authority"
	"github.com/awheeler/certmint/truststore"
)

// fastOptions keeps key generation quick in tests.
func fastOptions() authority.Options {
	return authority.Options{KeyLength: 2048}
}

func TestSetupWritesAllArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	h, err := authority.Setup(dir, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, authority.DefaultRootName, h.RootCert.Subject.CommonName)
	assert.Equal(t, authority.DefaultCAName, h.CACert.Subject.CommonName)

	for _, name := range []string{
		authority.FileRootKey, authority.FileRootCert,
		authority.FileCAKey, authority.FileCACert,
		authority.FileCRL, authority.FileBundle,
	} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	// Key files must not be world-readable.
	info, err := os.Stat(filepath.Join(dir, authority.FileCAKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSetupChainVerifies(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	h, err := authority.Setup(dir, fastOptions())
	require.NoError(t, err)

	require.NoError(t, h.CACert.CheckSignatureFrom(h.RootCert))
	assert.True(t, h.CACert.IsCA)
	assert.True(t, h.CACert.MaxPathLenZero)
	assert.True(t, h.RootCert.NotAfter.After(h.CACert.NotAfter))
}

func TestSetupArtifactsFeedTheTrustStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	_, err := authority.Setup(dir, fastOptions())
	require.NoError(t, err)

	store, err := truststore.Build(authority.BundlePath(dir), truststore.RevocationLeaf, authority.CRLPath(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, store.CRLCount())
}

func TestSetupRefusesExistingHierarchy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	_, err := authority.Setup(dir, fastOptions())
	require.NoError(t, err)

	_, err = authority.Setup(dir, fastOptions())
	assert.ErrorIs(t, err, authority.ErrExists)
}

func TestSetupHonorsCustomOptions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	h, err := authority.Setup(dir, authority.Options{
		RootName:  "Acme Root",
		CAName:    "Acme Issuing CA",
		KeyLength: 2048,
		RootTTL:   24 * time.Hour,
		CATTL:     12 * time.Hour,
		AltNames:  "DNS:ca.acme.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Root", h.RootCert.Subject.CommonName)
	assert.Equal(t, "Acme Issuing CA", h.CACert.Subject.CommonName)
	assert.Equal(t, []string{"ca.acme.test"}, h.CACert.DNSNames)
}

func TestReadKeyPlaintext(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	_, err := authority.Setup(dir, fastOptions())
	require.NoError(t, err)

	key, err := authority.ReadKey(dir, authority.FileCAKey, nil)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestReadKeySealed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")
	passphrase := memguard.NewBufferFromBytes([]byte("open sesame"))
	defer passphrase.Destroy()

	opts := fastOptions()
	opts.Passphrase = passphrase
	_, err := authority.Setup(dir, opts)
	require.NoError(t, err)

	// The key file must not contain plaintext PEM.
	raw, err := os.ReadFile(filepath.Join(dir, authority.FileCAKey))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "BEGIN RSA PRIVATE KEY")

	// No passphrase: refused.
	_, err = authority.ReadKey(dir, authority.FileCAKey, nil)
	assert.Error(t, err)

	// Wrong passphrase: refused.
	wrong := memguard.NewBufferFromBytes([]byte("wrong"))
	defer wrong.Destroy()
	_, err = authority.ReadKey(dir, authority.FileCAKey, wrong)
	assert.Error(t, err)

	// Correct passphrase: key loads.
	key, err := authority.ReadKey(dir, authority.FileCAKey, passphrase)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	created, err := authority.Setup(dir, fastOptions())
	require.NoError(t, err)

	loaded, err := authority.Load(dir)
	require.NoError(t, err)
	assert.True(t, created.RootCert.Equal(loaded.RootCert))
	assert.True(t, created.CACert.Equal(loaded.CACert))

	_, err = authority.Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
