// Package discord implements the Discord channel for notesbot using discordgo.
//
// discordgo delivers events through handlers on its own goroutines; they are
// buffered and handed to the supervisor in arrival order by Poll. Button
// presses (message components) arrive as callbacks carrying the CustomID.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
)

// maxMessageLen is Discord's content limit per message.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Enabled turns the channel on in `notesbot serve`.
	Enabled bool `yaml:"enabled"`

	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// PollWindow bounds how long Poll waits for the first event.
	PollWindow time.Duration `yaml:"poll_window"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{PollWindow: 30 * time.Second}
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// events buffers incoming messages between discordgo handlers and Poll.
	events chan *channels.IncomingMessage

	connected  atomic.Bool
	gatewayUp  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
	dropped    atomic.Int64

	mu sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = 30 * time.Second
	}
	return &Discord{
		cfg:    cfg,
		logger: logger.With("component", "discord"),
		events: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Connect) { d.gatewayUp.Store(true) })
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.gatewayUp.Store(false)
		d.errorCount.Add(1)
		d.logger.Warn("discord: gateway dropped, discordgo will reconnect")
	})

	if err := session.Open(); err != nil {
		if strings.Contains(err.Error(), "4004") {
			return fmt.Errorf("discord: opening gateway: %w: %v", channels.ErrUnauthorized, err)
		}
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	d.connected.Store(true)
	d.gatewayUp.Store(true)

	if session.State != nil && session.State.User != nil {
		d.logger.Info("discord: connected", "bot", session.State.User.Username, "id", session.State.User.ID)
	} else {
		d.logger.Info("discord: connected")
	}
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	d.connected.Store(false)
	if session == nil {
		return nil
	}
	d.logger.Info("discord: disconnected")
	return session.Close()
}

// Poll waits for the first buffered event, then drains whatever else is
// already queued so a burst is handed over as one ordered batch.
func (d *Discord) Poll(ctx context.Context) ([]*channels.IncomingMessage, error) {
	if !d.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}

	timer := time.NewTimer(d.cfg.PollWindow)
	defer timer.Stop()

	var batch []*channels.IncomingMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-d.events:
		batch = append(batch, msg)
	}

	for {
		select {
		case msg := <-d.events:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
}

// Send sends a message, splitting it at Discord's length limit. Buttons are
// attached to the last chunk.
func (d *Discord) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return channels.ErrChannelDisconnected
	}

	chunks := splitDiscordMessage(message.Content, maxMessageLen)
	for i, chunk := range chunks {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if i == len(chunks)-1 {
			msgSend.Components = buildComponents(message.Buttons)
		}
		if _, err := session.ChannelMessageSendComplex(to, msgSend); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: discord: %w", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// IsConnected returns true if the channel is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		Details: map[string]any{
			"gateway_up": d.gatewayUp.Load(),
			"dropped":    d.dropped.Load(),
		},
	}
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   d.Name(),
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if strings.TrimSpace(incoming.Content) == "" {
		incoming.Type = channels.MessageUnsupported
	}
	d.enqueue(incoming)
}

// onInteractionCreate turns button clicks into callback messages.
func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if !d.allowed(i.GuildID, i.ChannelID) {
		return
	}

	var user *discordgo.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	} else if i.User != nil {
		user = i.User
	}
	if user == nil {
		return
	}

	// Acknowledge immediately to satisfy Discord's 3s limit; the reply is
	// sent as a regular message by the pipeline.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		d.logger.Warn("discord: failed to ack interaction", "error", err)
	}

	d.enqueue(&channels.IncomingMessage{
		ID:           "ix-" + i.ID,
		Channel:      d.Name(),
		From:         user.ID,
		FromName:     user.Username,
		ChatID:       i.ChannelID,
		Type:         channels.MessageCallback,
		CallbackData: i.MessageComponentData().CustomID,
		Timestamp:    time.Now(),
	})
}

func (d *Discord) enqueue(msg *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	select {
	case d.events <- msg:
	default:
		d.dropped.Add(1)
		d.logger.Warn("discord: event buffer full, dropping message", "msg_id", msg.ID)
	}
}

func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

// ---------- Helpers ----------

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// buildComponents maps button rows to Discord action rows (max 5 per row).
func buildComponents(rows [][]channels.Button) []discordgo.MessageComponent {
	var out []discordgo.MessageComponent
	for _, row := range rows {
		var buttons []discordgo.MessageComponent
		for _, b := range row {
			if b.Text == "" || b.Data == "" || len(buttons) == 5 {
				continue
			}
			buttons = append(buttons, discordgo.Button{
				Label:    b.Text,
				Style:    discordgo.PrimaryButton,
				CustomID: b.Data,
			})
		}
		if len(buttons) > 0 {
			out = append(out, discordgo.ActionsRow{Components: buttons})
		}
	}
	return out
}

// splitDiscordMessage splits a message into chunks respecting the 2000 char limit.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Try to split at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var _ channels.Channel = (*Discord)(nil)
