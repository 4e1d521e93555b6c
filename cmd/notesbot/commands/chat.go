package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jholhewres/notesbot/pkg/notesbot/bot"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels/console"
	"github.com/jholhewres/notesbot/pkg/notesbot/config"
	"github.com/spf13/cobra"
)

// newChatCmd creates the `notesbot chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long: `Start a local conversation that runs through the same gate and
conversation engine as the chat platforms. Buttons are pressed by typing
their data prefixed with '#', e.g. '#add_note'.

Examples:
  notesbot chat
  notesbot chat --config ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}

	cmd.Flags().String("history", "", "readline history file (default: ~/.notesbot_history)")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		// The console only needs the API section, which defaults and the
		// environment can provide.
		if cfg, err = config.Load(""); err != nil {
			return err
		}
	}
	if err := cfg.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	// Keep logs out of the prompt unless asked for.
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); !verbose {
		cfg.Logging.Level = "warn"
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history, _ := cmd.Flags().GetString("history")
	if history == "" {
		if home, err := os.UserHomeDir(); err == nil {
			history = filepath.Join(home, ".notesbot_history")
		}
	}

	term := console.New(console.Config{
		HistoryFile: history,
		OnExit:      cancel,
	}, logger)

	sup := bot.NewSupervisor(term, pipeline, nil, bot.SupervisorConfig{
		Backoff:          cfg.Bot.ReconnectBackoff,
		RedeliveryWindow: cfg.Bot.RedeliveryWindow,
	}, logger)

	fmt.Printf("%s console. Type /start to begin, Ctrl+D to quit.\n", cfg.Name)
	return sup.Run(ctx)
}
