package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse is a multi-factor authentication service",
	Long: `An authentication orchestrator for identity providers: ordered factor
chains (password, authenticator app, email, SMS, security keys), session
switching, abuse gates and password recovery.
Complete documentation is available at https://github.com/jmcleod/gatehouse`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
