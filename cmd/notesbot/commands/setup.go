package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/notesbot/pkg/notesbot/config"
	"github.com/spf13/cobra"
)

// newSetupCmd creates the `notesbot setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
Asks for the notes API address, the chat platforms to enable and their bot
tokens. Tokens can be kept in the OS keyring instead of the file.

Examples:
  notesbot setup
  notesbot setup --output ./configs/notesbot.yaml`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}

	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the configuration")
	return cmd
}

// storageMethod tracks where tokens were stored during setup.
type storageMethod string

const (
	storageConfig  storageMethod = "config"  // plaintext in config.yaml
	storageKeyring storageMethod = "keyring" // OS keyring
)

// setupAnswers collects the wizard input.
type setupAnswers struct {
	name          string
	baseURL       string
	channels      []string
	telegramToken string
	discordToken  string
	apiToken      string
	storage       storageMethod
	gateway       bool
	gatewayAddr   string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	target, _ := cmd.Flags().GetString("output")
	cfg := config.DefaultConfig()

	ans := setupAnswers{
		name:        cfg.Name,
		baseURL:     cfg.API.BaseURL,
		storage:     storageConfig,
		gatewayAddr: cfg.Gateway.Address,
	}

	// ── Step 1: basics and platforms ──
	basics := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Value(&ans.name),
			huh.NewInput().
				Title("Notes API base URL").
				Description("Root of the notes/identity service.").
				Value(&ans.baseURL).
				Validate(validateBaseURL),
			huh.NewMultiSelect[string]().
				Title("Chat platforms").
				Options(
					huh.NewOption("Telegram", "telegram").Selected(true),
					huh.NewOption("Discord", "discord"),
				).
				Value(&ans.channels),
		),
	)
	if err := basics.Run(); err != nil {
		return setupAborted(err)
	}

	// ── Step 2: tokens ──
	var fields []huh.Field
	if contains(ans.channels, "telegram") {
		fields = append(fields, huh.NewInput().
			Title("Telegram bot token").
			Description("From @BotFather. Leave empty to use "+config.EnvTelegramToken+".").
			EchoMode(huh.EchoModePassword).
			Value(&ans.telegramToken))
	}
	if contains(ans.channels, "discord") {
		fields = append(fields, huh.NewInput().
			Title("Discord bot token").
			Description("Leave empty to use "+config.EnvDiscordToken+".").
			EchoMode(huh.EchoModePassword).
			Value(&ans.discordToken))
	}
	fields = append(fields,
		huh.NewInput().
			Title("Notes API token (optional)").
			EchoMode(huh.EchoModePassword).
			Value(&ans.apiToken),
	)
	if config.KeyringAvailable() {
		fields = append(fields, huh.NewSelect[storageMethod]().
			Title("Where should tokens be stored?").
			Options(
				huh.NewOption("OS keyring (recommended)", storageKeyring),
				huh.NewOption("config file", storageConfig),
			).
			Value(&ans.storage))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return setupAborted(err)
	}

	// ── Step 3: gateway ──
	gw := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the operational HTTP gateway?").
				Description("Health, channel status and live sessions over HTTP.").
				Value(&ans.gateway),
		),
	)
	if err := gw.Run(); err != nil {
		return setupAborted(err)
	}
	if ans.gateway {
		addr := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Gateway listen address").Value(&ans.gatewayAddr),
		))
		if err := addr.Run(); err != nil {
			return setupAborted(err)
		}
	}

	applyAnswers(cfg, ans)

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Name:      %s\n", cfg.Name)
	fmt.Printf("  API URL:   %s\n", cfg.API.BaseURL)
	fmt.Printf("  Channels:  %s\n", strings.Join(cfg.EnabledChannels(), ", "))
	fmt.Printf("  Tokens:    %s\n", ans.storage)
	if cfg.Gateway.Enabled {
		fmt.Printf("  Gateway:   %s\n", cfg.Gateway.Address)
	}
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()

	// ── Confirm and save ──
	save := true
	if _, err := os.Stat(target); err == nil {
		save = false
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
				Value(&save),
		))
		if err := confirm.Run(); err != nil {
			return setupAborted(err)
		}
	}
	if !save {
		fmt.Println("Setup cancelled. Existing file kept.")
		return nil
	}

	if ans.storage == storageKeyring {
		if err := storeTokens(cfg); err != nil {
			return err
		}
	}

	if err := config.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("%s created (permissions: 600).\n\n", target)
	fmt.Println("Next steps:")
	fmt.Println("  1. Try it locally:  notesbot chat")
	fmt.Println("  2. Start the bot:   notesbot serve")
	fmt.Println()
	return nil
}

// applyAnswers copies the wizard input into cfg.
func applyAnswers(cfg *config.Config, ans setupAnswers) {
	if name := strings.TrimSpace(ans.name); name != "" {
		cfg.Name = name
	}
	cfg.API.BaseURL = strings.TrimSpace(ans.baseURL)
	cfg.API.Token = strings.TrimSpace(ans.apiToken)

	cfg.Channels.Telegram.Enabled = contains(ans.channels, "telegram")
	cfg.Channels.Telegram.Token = strings.TrimSpace(ans.telegramToken)
	cfg.Channels.Discord.Enabled = contains(ans.channels, "discord")
	cfg.Channels.Discord.Token = strings.TrimSpace(ans.discordToken)

	cfg.Gateway.Enabled = ans.gateway
	if addr := strings.TrimSpace(ans.gatewayAddr); addr != "" {
		cfg.Gateway.Address = addr
	}
}

// storeTokens moves the non-empty tokens of cfg into the OS keyring and
// clears them from cfg.
func storeTokens(cfg *config.Config) error {
	secrets := []struct {
		name  string
		field *string
	}{
		{config.SecretTelegramToken, &cfg.Channels.Telegram.Token},
		{config.SecretDiscordToken, &cfg.Channels.Discord.Token},
		{config.SecretAPIToken, &cfg.API.Token},
	}
	for _, s := range secrets {
		if *s.field == "" {
			continue
		}
		if err := config.StoreKeyring(s.name, *s.field); err != nil {
			return fmt.Errorf("storing %s in keyring: %w", s.name, err)
		}
		*s.field = ""
	}
	return nil
}

func validateBaseURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("enter an absolute URL, e.g. http://localhost:8000/")
	}
	return nil
}

func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("setup cancelled")
	}
	return fmt.Errorf("setup: %w", err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
