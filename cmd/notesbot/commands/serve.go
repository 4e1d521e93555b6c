package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jholhewres/notesbot/pkg/notesbot/bot"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels/discord"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels/telegram"
	"github.com/jholhewres/notesbot/pkg/notesbot/gateway"
	"github.com/jholhewres/notesbot/pkg/notesbot/store"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the graceful shutdown.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `notesbot serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot on the configured chat platforms",
		Long: `Start notesbot as a daemon, connecting to the enabled channels
(Telegram, Discord) and answering their updates.

Examples:
  notesbot serve
  notesbot serve --channel telegram
  notesbot serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	filter, _ := cmd.Flags().GetStringSlice("channel")
	cfg.Channels.Telegram.Enabled = shouldEnable("telegram", filter, cfg.Channels.Telegram.Enabled)
	cfg.Channels.Discord.Enabled = shouldEnable("discord", filter, cfg.Channels.Discord.Enabled)

	if err := cfg.Validate(true); err != nil {
		return fmt.Errorf("invalid configuration in %s:\n%w", path, err)
	}

	logger := newLogger(cmd, cfg, os.Stdout)
	logger.Info("config loaded", "path", path)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	// ── State database ──
	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(context.Background()); err != nil {
		return fmt.Errorf("state database unreachable: %w", err)
	}

	// ── Conversation runtime ──
	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	pruner, err := bot.NewPruner(pipeline.Store(), cfg.Bot.PruneSchedule, logger)
	if err != nil {
		return fmt.Errorf("session pruner: %w", err)
	}

	// ── Channels ──
	var chans []channels.Channel
	if cfg.Channels.Telegram.Enabled {
		chans = append(chans, telegram.New(cfg.Channels.Telegram, db, logger))
	}
	if cfg.Channels.Discord.Enabled {
		chans = append(chans, discord.New(cfg.Channels.Discord, logger))
	}

	supCfg := bot.SupervisorConfig{
		Backoff:          cfg.Bot.ReconnectBackoff,
		RedeliveryWindow: cfg.Bot.RedeliveryWindow,
	}
	supervisors := make([]*bot.Supervisor, 0, len(chans))
	for _, ch := range chans {
		supervisors = append(supervisors, bot.NewSupervisor(ch, pipeline, db, supCfg, logger))
	}

	// ── Start ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, sup := range supervisors {
		wg.Add(1)
		go func(s *bot.Supervisor) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				logger.Error("supervisor stopped", "channel", s.Channel().Name(), "error", err)
			}
		}(sup)
	}

	pruner.Start()

	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(cfg.Gateway, gateway.Deps{
			Name:        cfg.Name,
			Sessions:    pipeline.Store(),
			Supervisors: supervisors,
			Dispatches:  db,
		}, logger)
		if err := gw.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			pruner.Stop()
			return fmt.Errorf("starting gateway: %w", err)
		}
	}

	// ── Wait for shutdown ──
	logger.Info("notesbot running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"channels", cfg.EnabledChannels(),
		"api", cfg.API.BaseURL,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		cancel()
		wg.Wait()
		pruner.Stop()
		if gw != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := gw.Stop(stopCtx); err != nil {
				logger.Warn("gateway shutdown", "error", err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
	}

	return nil
}
