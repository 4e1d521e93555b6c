// Package config defines the notesbot configuration, its defaults and
// validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jholhewres/notesbot/pkg/notesbot/bot"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels/discord"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels/telegram"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
	"github.com/jholhewres/notesbot/pkg/notesbot/store"
)

// Config is the root configuration.
type Config struct {
	// Name is the bot name shown in logs and the status endpoint.
	Name string `yaml:"name"`

	// API configures the remote notes API client.
	API notesapi.Config `yaml:"api"`

	// Bot configures the conversation runtime.
	Bot BotConfig `yaml:"bot"`

	// Channels configures the chat platforms.
	Channels ChannelsConfig `yaml:"channels"`

	// Database configures the SQLite state database.
	Database store.Config `yaml:"database"`

	// Gateway configures the operational HTTP server.
	Gateway GatewayConfig `yaml:"gateway"`

	// Logging configures the root logger.
	Logging LoggingConfig `yaml:"logging"`
}

// BotConfig configures sessions and supervisors.
type BotConfig struct {
	// ReconnectBackoff is the pause before reconnecting a failed channel
	// (default: 3s).
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// SessionTTL is how long an idle session is kept (default: 24h).
	SessionTTL time.Duration `yaml:"session_ttl"`

	// PruneSchedule is the cron schedule of the idle-session pruner
	// (default: "@every 30m").
	PruneSchedule string `yaml:"prune_schedule"`

	// RedeliveryWindow is how many message ids each channel remembers to
	// detect redelivered updates (default: 1024).
	RedeliveryWindow int `yaml:"redelivery_window"`
}

// ChannelsConfig groups the channel configurations.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
}

// GatewayConfig configures the operational HTTP server.
type GatewayConfig struct {
	// Enabled turns the gateway on/off (default: false).
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":8086").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token for /api/* (empty = no auth).
	AuthToken string `yaml:"auth_token"`

	// CORSOrigins lists allowed origins for CORS (empty = no CORS).
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level"`

	// Format is text or json (default: text).
	Format string `yaml:"format"`
}

// DefaultGatewayAddress is the default gateway listen address.
const DefaultGatewayAddress = ":8086"

// DefaultConfig returns the configuration used when a key is absent.
func DefaultConfig() *Config {
	return &Config{
		Name: "notesbot",
		API: func() notesapi.Config {
			c := notesapi.DefaultConfig()
			c.BaseURL = "http://fastapi-app:8000/"
			return c
		}(),
		Bot: BotConfig{
			ReconnectBackoff: bot.DefaultReconnectBackoff,
			SessionTTL:       bot.DefaultSessionTTL,
			PruneSchedule:    bot.DefaultPruneSchedule,
			RedeliveryWindow: bot.DefaultRedeliveryWindow,
		},
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Database: store.Config{
			Path:       store.DefaultPath,
			MaxLogRows: store.DefaultMaxLogRows,
		},
		Gateway: GatewayConfig{
			Address: DefaultGatewayAddress,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// EnabledChannels returns the names of the enabled chat platforms.
func (c *Config) EnabledChannels() []string {
	var out []string
	if c.Channels.Telegram.Enabled {
		out = append(out, "telegram")
	}
	if c.Channels.Discord.Enabled {
		out = append(out, "discord")
	}
	return out
}

// Validate checks the settings `notesbot serve` cannot run without.
// requireChannel is false for the console, which needs no platform.
func (c *Config) Validate(requireChannel bool) error {
	var errs []error

	u, err := url.Parse(strings.TrimSpace(c.API.BaseURL))
	if c.API.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.Bot.ReconnectBackoff <= 0 {
		errs = append(errs, errors.New("bot.reconnect_backoff must be positive"))
	}
	if c.Bot.SessionTTL <= 0 {
		errs = append(errs, errors.New("bot.session_ttl must be positive"))
	}

	if requireChannel && len(c.EnabledChannels()) == 0 {
		errs = append(errs, errors.New("no channel enabled: set channels.telegram.enabled or channels.discord.enabled"))
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		errs = append(errs, errors.New("channels.telegram.token is required (or NOTESBOT_TELEGRAM_TOKEN)"))
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, errors.New("channels.discord.token is required (or NOTESBOT_DISCORD_TOKEN)"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are valid but likely to misbehave at runtime.
func (c *Config) Warnings() []string {
	var out []string
	if c.Channels.Discord.Enabled {
		out = append(out, "channels.discord is enabled: users link with a discord_id parameter, "+
			"which the notes API must accept (the stock API only links telegram_id)")
	}
	return out
}

// Masked returns a copy with secrets replaced for display.
func (c *Config) Masked() *Config {
	m := *c
	m.API.Token = maskSecret(c.API.Token)
	m.Channels.Telegram.Token = maskSecret(c.Channels.Telegram.Token)
	m.Channels.Discord.Token = maskSecret(c.Channels.Discord.Token)
	m.Gateway.AuthToken = maskSecret(c.Gateway.AuthToken)
	return &m
}

func maskSecret(s string) string {
	switch {
	case s == "" || IsEnvReference(s):
		return s
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****" + s[len(s)-2:]
	}
}
