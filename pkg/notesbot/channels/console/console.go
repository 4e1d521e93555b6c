// Package console implements a local terminal channel backed by readline.
// It drives the same pipeline as the chat platforms, which makes it the
// quickest way to walk through a conversation against a real notes API.
//
// Lines starting with "#" are treated as button presses: "#add_note" is the
// same as tapping the "Add note" button on Telegram.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
)

// Identity is the fixed sender id of the local user.
const Identity = "local"

// Config holds console channel configuration.
type Config struct {
	// Prompt is shown before each input line.
	Prompt string

	// HistoryFile persists input history between runs (optional).
	HistoryFile string

	// OnExit is invoked once when the user closes the console (Ctrl+D or
	// Ctrl+C on an empty line).
	OnExit func()
}

// Console implements channels.Channel on top of a readline instance.
type Console struct {
	cfg    Config
	logger *slog.Logger

	rl        *readline.Instance
	out       io.Writer
	seq       atomic.Int64
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	exitOnce  sync.Once
	mu        sync.Mutex
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	return &Console{cfg: cfg, logger: logger.With("component", "console")}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the readline instance.
func (c *Console) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rl != nil {
		return nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console: opening terminal: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()
	c.connected.Store(true)
	return nil
}

// Disconnect closes the readline instance, unblocking a pending Poll.
func (c *Console) Disconnect() error {
	c.mu.Lock()
	rl := c.rl
	c.rl = nil
	c.mu.Unlock()
	c.connected.Store(false)
	if rl == nil {
		return nil
	}
	return rl.Close()
}

// Poll reads one line. Ctrl+D or Ctrl+C ends the session via OnExit.
func (c *Console) Poll(ctx context.Context) ([]*channels.IncomingMessage, error) {
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	if rl == nil {
		return nil, channels.ErrChannelDisconnected
	}

	line, err := rl.Readline()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) && line != "" {
			return nil, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			c.exit()
			return nil, nil
		}
		return nil, fmt.Errorf("console: reading input: %w", err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	return []*channels.IncomingMessage{c.toMessage(line)}, nil
}

// Send prints the reply and any buttons as "#data" hints.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return channels.ErrChannelDisconnected
	}
	_, err := io.WriteString(out, Render(message))
	return err
}

// IsConnected returns true while the terminal is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

func (c *Console) toMessage(line string) *channels.IncomingMessage {
	c.lastMsg.Store(time.Now())
	msg := &channels.IncomingMessage{
		ID:        strconv.FormatInt(c.seq.Add(1), 10),
		Channel:   c.Name(),
		From:      Identity,
		FromName:  Identity,
		ChatID:    Identity,
		Type:      channels.MessageText,
		Content:   line,
		Timestamp: time.Now(),
	}
	if data, ok := strings.CutPrefix(line, "#"); ok && data != "" {
		msg.Type = channels.MessageCallback
		msg.CallbackData = data
		msg.Content = ""
	}
	return msg
}

func (c *Console) exit() {
	c.exitOnce.Do(func() {
		if c.cfg.OnExit != nil {
			c.cfg.OnExit()
		}
	})
}

// Render formats an outgoing message for a terminal.
func Render(message *channels.OutgoingMessage) string {
	var sb strings.Builder
	sb.WriteString("bot> ")
	sb.WriteString(strings.ReplaceAll(message.Content, "\n", "\n     "))
	sb.WriteString("\n")
	for _, row := range message.Buttons {
		sb.WriteString("     ")
		for i, b := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			fmt.Fprintf(&sb, "[#%s] %s", b.Data, b.Text)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Compile-time interface verification.
var _ channels.Channel = (*Console)(nil)
