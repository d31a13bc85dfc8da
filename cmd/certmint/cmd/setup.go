package cmd

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/awheeler/certmint/authority"
	"github.com/awheeler/certmint/inventory"
	"github.com/awheeler/certmint/pki"
)

var (
	setupDir            string
	setupRootName       string
	setupCAName         string
	setupKeyLength      int
	setupDigest         string
	setupAltNames       string
	setupPassphraseFile string
	setupInventoryPath  string
)

var setupCmd = &cobra.Command{
	Use:          "setup",
	Short:        "Generate the root and intermediate CA hierarchy on disk",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var passphrase *memguard.LockedBuffer
		if setupPassphraseFile != "" {
			data, err := os.ReadFile(setupPassphraseFile)
			if err != nil {
				return fmt.Errorf("reading passphrase file: %w", err)
			}
			passphrase = memguard.NewBufferFromBytes(bytes.TrimSpace(data))
			defer passphrase.Destroy()
		}

		h, err := authority.Setup(setupDir, authority.Options{
			RootName:   setupRootName,
			CAName:     setupCAName,
			KeyLength:  setupKeyLength,
			Digest:     setupDigest,
			AltNames:   pki.MungeAltNames(setupAltNames),
			Passphrase: passphrase,
		})
		if err != nil {
			return err
		}

		if setupInventoryPath != "" {
			if err := recordAuthority(h); err != nil {
				return err
			}
		}

		fmt.Printf("Generated CA hierarchy in %s\n", h.Dir)
		fmt.Printf("  root: %s (expires %s)\n", h.RootCert.Subject.CommonName, h.RootCert.NotAfter.Format(time.DateOnly))
		fmt.Printf("  CA:   %s (expires %s)\n", h.CACert.Subject.CommonName, h.CACert.NotAfter.Format(time.DateOnly))
		return nil
	},
}

// recordAuthority stores the generated certificates in the inventory.
func recordAuthority(h *authority.Hierarchy) error {
	inv, err := inventory.Open(setupInventoryPath)
	if err != nil {
		return err
	}
	defer inv.Close()

	now := time.Now().UTC()
	for name, cert := range map[string]*x509.Certificate{
		authority.FileRootCert: h.RootCert,
		authority.FileCACert:   h.CACert,
	} {
		fingerprint := sha256.Sum256(cert.Raw)
		rec := inventory.Record{
			ID:                uuid.NewString(),
			Name:              name,
			SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
			FingerprintSHA256: hex.EncodeToString(fingerprint[:]),
			NotBefore:         cert.NotBefore,
			NotAfter:          cert.NotAfter,
			SavedAt:           now,
		}
		if err := inv.PutAuthority(rec); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVar(&setupDir, "ca-dir", "./ca", "Directory for CA hierarchy artifacts")
	setupCmd.Flags().StringVar(&setupRootName, "root-name", authority.DefaultRootName, "Common name of the root certificate")
	setupCmd.Flags().StringVar(&setupCAName, "ca-name", authority.DefaultCAName, "Common name of the intermediate CA certificate")
	setupCmd.Flags().IntVar(&setupKeyLength, "keylength", authority.DefaultKeyLength, "RSA key length in bits")
	setupCmd.Flags().StringVar(&setupDigest, "digest", "sha256", "Signature digest algorithm (sha256, sha384, sha512)")
	setupCmd.Flags().StringVar(&setupAltNames, "dns-alt-names", "", "Subject alternative names for the intermediate certificate")
	setupCmd.Flags().StringVar(&setupPassphraseFile, "passphrase-file", "", "File containing a passphrase to seal the CA private keys")
	setupCmd.Flags().StringVar(&setupInventoryPath, "inventory", "", "Path to the inventory database (disabled when empty)")
}
