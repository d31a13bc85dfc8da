package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/awheeler/certmint/inventory"
	"github.com/awheeler/certmint/provision"
	"github.com/awheeler/certmint/settings"
)

var (
	dlServer        string
	dlPort          int
	dlLocalCACert   string
	dlHostCert      string
	dlHostPrivKey   string
	dlHostCRL       string
	dlRevocation    string
	dlAltNames      string
	dlKeyLength     int
	dlDigest        string
	dlCertDir       string
	dlPrivateKeyDir string
	dlInventoryPath string
	dlTimeout       time.Duration
)

var downloadCmd = &cobra.Command{
	Use:          "download <certname>...",
	Short:        "Request and retrieve signed certificates from the CA service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		var inv *inventory.Store
		if dlInventoryPath != "" {
			var err error
			inv, err = inventory.Open(dlInventoryPath)
			if err != nil {
				return err
			}
			defer inv.Close()
		}

		workflow := provision.New(provision.Config{
			Settings: settings.Settings{
				Server:                dlServer,
				Port:                  dlPort,
				LocalCACert:           dlLocalCACert,
				HostCert:              dlHostCert,
				HostPrivKey:           dlHostPrivKey,
				HostCRL:               dlHostCRL,
				CertificateRevocation: dlRevocation,
				KeyLength:             dlKeyLength,
				DigestAlgorithm:       dlDigest,
				CertDir:               dlCertDir,
				PrivateKeyDir:         dlPrivateKeyDir,
				Timeout:               dlTimeout,
			},
			AltNames:  dlAltNames,
			Logger:    logger,
			Inventory: inv,
		})

		report, err := workflow.Run(cmd.Context(), args)
		if err != nil {
			return err
		}

		failed := 0
		for _, res := range report.Results {
			if res.Outcome == provision.OutcomeSaved {
				fmt.Fprintln(os.Stdout, res.Message)
			} else {
				fmt.Fprintln(os.Stderr, "Error: "+res.Message)
				failed++
			}
		}
		if report.Failed() {
			return fmt.Errorf("%d of %d certificates could not be saved", failed, len(report.Results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&dlServer, "server", "puppet", "CA service host name")
	downloadCmd.Flags().IntVar(&dlPort, "port", settings.DefaultPort, "CA service port")
	downloadCmd.Flags().StringVar(&dlLocalCACert, "localcacert", "", "Path to the trusted CA bundle")
	downloadCmd.Flags().StringVar(&dlHostCert, "hostcert", "", "Path to this host's client certificate")
	downloadCmd.Flags().StringVar(&dlHostPrivKey, "hostprivkey", "", "Path to this host's private key")
	downloadCmd.Flags().StringVar(&dlHostCRL, "hostcrl", "", "Path to the CRL bundle")
	downloadCmd.Flags().StringVar(&dlRevocation, "certificate-revocation", "leaf", "Revocation checking: ignore, leaf or chain")
	downloadCmd.Flags().StringVar(&dlAltNames, "dns-alt-names", "", "Subject alternative names for requested certificates")
	downloadCmd.Flags().IntVar(&dlKeyLength, "keylength", settings.DefaultKeyLength, "RSA key length in bits")
	downloadCmd.Flags().StringVar(&dlDigest, "digest", settings.DefaultDigest, "Signature digest algorithm")
	downloadCmd.Flags().StringVar(&dlCertDir, "certdir", "./certs", "Directory for saved certificates")
	downloadCmd.Flags().StringVar(&dlPrivateKeyDir, "privatekeydir", "./private_keys", "Directory for generated private keys")
	downloadCmd.Flags().StringVar(&dlInventoryPath, "inventory", "", "Path to the inventory database (disabled when empty)")
	downloadCmd.Flags().DurationVar(&dlTimeout, "timeout", settings.DefaultTimeout, "Network operation timeout")
}
