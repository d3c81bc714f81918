package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/autoreply/internal/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "autoreply",
	Short: "IMAP auto-responder",
	Long: `autoreply polls the INBOX and Junk folders of every active mail account
for unseen messages and answers each new sender once with the configured
reply over SMTP.

Settings come from an optional YAML file, defaults and AUTOREPLY_*
environment variables.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("AUTOREPLY_CONFIG"), "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(processedCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "autoreply %s\n", version.Full())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
