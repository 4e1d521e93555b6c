package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jholhewres/notesbot/pkg/notesbot/bot"
	"github.com/jholhewres/notesbot/pkg/notesbot/config"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
	"github.com/spf13/cobra"
)

// resolveConfig loads the config named by --config, or the first file
// found in the standard locations.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return nil, "", fmt.Errorf("no configuration file found; run 'notesbot setup' or pass --config")
}

// newLogger builds the root logger from the logging section and --verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// newPipeline wires the link gate and the conversation engine on top of a
// fresh session store.
func newPipeline(cfg *config.Config, logger *slog.Logger) (*bot.Pipeline, error) {
	client, err := notesapi.New(cfg.API, logger)
	if err != nil {
		return nil, err
	}
	sessions := bot.NewSessionStore(cfg.Bot.SessionTTL, logger)
	gate := bot.NewGate(client, logger)
	engine := bot.NewEngine(client, logger)
	return bot.NewPipeline(sessions, engine, logger, gate), nil
}

// shouldEnable checks if a channel should be started.
func shouldEnable(name string, filter []string, configured bool) bool {
	if len(filter) == 0 {
		return configured
	}
	for _, f := range filter {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}
