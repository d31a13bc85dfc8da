package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "certmint",
	Short: "certmint is a private certificate authority client",
	Long: `A client for a private CA hierarchy: sets up root and intermediate
authorities, issues certificate signing requests for named agents, and
retrieves signed certificates from a remote CA service over mutual TLS.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
