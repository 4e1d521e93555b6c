// Package commands implements the notesbot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "notesbot",
		Short: "notesbot - chat front-end for a notes service",
		Long: `notesbot lets users of Telegram and Discord link their chat identity to a
notes account, then create notes and search them by tag from the chat.

Examples:
  notesbot setup
  notesbot serve
  notesbot serve --channel telegram
  notesbot chat
  notesbot config set-secret telegram_token`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
