package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/jholhewres/notesbot/pkg/notesbot/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `notesbot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration and manage secrets",
		Long: `Inspect the notesbot configuration and manage the secrets kept in the
OS keyring.

Examples:
  notesbot config show
  notesbot config validate
  notesbot config set-secret telegram_token
  notesbot config delete-secret telegram_token`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetSecretCmd(),
		newConfigDeleteSecretCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Printf("# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration can start the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(true); err != nil {
				return fmt.Errorf("%s is invalid:\n%w", path, err)
			}
			fmt.Printf("%s is valid (channels: %s)\n", path, strings.Join(cfg.EnabledChannels(), ", "))
			return nil
		},
	}
}

func newConfigSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-secret <name>",
		Short:     "Store a token in the OS keyring",
		Long:      "Store a token in the OS keyring. Known names: " + strings.Join(config.SecretNames, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretNames,
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !config.IsSecretName(name) {
				return fmt.Errorf("unknown secret %q (known: %s)", name, strings.Join(config.SecretNames, ", "))
			}
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; use environment variables instead")
			}
			value, err := config.ReadPassword(fmt.Sprintf("%s: ", name))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := config.StoreKeyring(name, value); err != nil {
				return fmt.Errorf("storing %s: %w", name, err)
			}
			fmt.Fprintf(os.Stdout, "%s stored in the OS keyring.\n", name)
			return nil
		},
	}
}

func newConfigDeleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-secret <name>",
		Short:     "Remove a token from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretNames,
		RunE: func(_ *cobra.Command, args []string) error {
			if !config.IsSecretName(args[0]) {
				return fmt.Errorf("unknown secret %q", args[0])
			}
			if err := config.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			fmt.Printf("%s removed from the OS keyring.\n", args[0])
			return nil
		},
	}
}
