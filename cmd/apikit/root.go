package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "apikit",
		Short: "Send authenticated HTTP requests",
		Long: `apikit sends HTTP requests through an interceptor pipeline that attaches
OAuth bearer tokens, refreshing them from the configured token endpoint
when they expire. Tokens are kept in an encrypted local keystore.

Configuration comes from APIKIT_* environment variables or a .env file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(`{{printf "apikit version %s\n" .Version}}`)

	root.AddCommand(
		newSendCmd(),
		newDownloadCmd(),
		newTokenCmd(),
		newLogoutCmd(),
		newLoginCmd(),
		newSandboxCmd(),
	)

	return root
}
