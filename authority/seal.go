package authority

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"

	"github.com/awheeler/certmint/internal/util"
	"github.com/awheeler/certmint/pki"
)

// sealedKey is the JSON envelope written in place of a plaintext key PEM
// when a passphrase is in use. The KDF parameters travel with the envelope
// so defaults can change without breaking existing hierarchies.
type sealedKey struct {
	Version    int                 `json:"version"`
	KDF        util.Argon2idParams `json:"kdf"`
	Salt       []byte              `json:"salt"`
	Ciphertext []byte              `json:"ciphertext"`
}

// wrapKey seals keyPEM under the passphrase, binding the envelope to its
// file name so envelopes cannot be swapped between artifacts. A nil
// passphrase returns the PEM unchanged.
func wrapKey(keyPEM []byte, passphrase *memguard.LockedBuffer, name string) ([]byte, error) {
	if passphrase == nil {
		return keyPEM, nil
	}
	salt, err := util.NewSalt()
	if err != nil {
		return nil, err
	}
	params := util.DefaultArgon2idParams()
	key, err := util.DeriveKey(passphrase.String(), salt, params)
	if err != nil {
		return nil, err
	}
	ciphertext, err := util.Seal(keyPEM, key, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("sealing %s: %w", name, err)
	}
	return json.MarshalIndent(sealedKey{
		Version:    1,
		KDF:        params,
		Salt:       salt,
		Ciphertext: ciphertext,
	}, "", "  ")
}

// unwrapKey reverses wrapKey. Plaintext PEM passes through untouched; a
// sealed envelope requires the passphrase that created it.
func unwrapKey(data []byte, passphrase *memguard.LockedBuffer, name string) ([]byte, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		return data, nil
	}
	var envelope sealedKey
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%s is neither PEM nor a sealed key envelope: %w", name, err)
	}
	if passphrase == nil {
		return nil, fmt.Errorf("%s is passphrase-protected", name)
	}
	key, err := util.DeriveKey(passphrase.String(), envelope.Salt, envelope.KDF)
	if err != nil {
		return nil, err
	}
	keyPEM, err := util.Open(envelope.Ciphertext, key, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("unsealing %s (wrong passphrase?): %w", name, err)
	}
	return keyPEM, nil
}

// ReadKey loads a private key artifact from dir, unsealing it with the
// passphrase when the hierarchy was set up with one.
func ReadKey(dir, name string, passphrase *memguard.LockedBuffer) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	keyPEM, err := unwrapKey(data, passphrase, name)
	if err != nil {
		return nil, err
	}
	return pki.ParsePrivateKeyPEM(keyPEM)
}
