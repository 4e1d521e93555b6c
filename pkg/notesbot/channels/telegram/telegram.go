// Package telegram implements the Telegram channel for notesbot using the
// Telegram Bot API directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates), one batch per Poll call
//   - Poll offset persisted through an OffsetStore once a batch has been
//     handed off, so restarts resume without skipping updates
//   - Inline keyboards and callback queries (answerCallbackQuery)
//   - HTML parse mode for outgoing messages, split at the 4096 char limit
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// maxMessageLen is the Bot API limit for sendMessage text.
const maxMessageLen = 4096

// Config holds Telegram channel configuration.
type Config struct {
	// Enabled turns the channel on in `notesbot serve`.
	Enabled bool `yaml:"enabled"`

	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIURL overrides the Bot API endpoint (self-hosted Bot API server).
	APIURL string `yaml:"api_url"`

	// AllowedChats restricts which chat IDs the bot responds to.
	// Empty means respond to all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// RespondToGroups enables responding in group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// PollTimeout is the long-poll window in seconds passed to getUpdates.
	PollTimeout int `yaml:"poll_timeout"`

	// ParseMode sets the parse mode for outgoing messages ("HTML" or "").
	ParseMode string `yaml:"parse_mode"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:      DefaultAPIURL,
		PollTimeout: 30,
		ParseMode:   "HTML",
	}
}

// OffsetStore persists the getUpdates offset between process restarts.
type OffsetStore interface {
	LoadOffset(ctx context.Context, channel string) (int64, error)
	SaveOffset(ctx context.Context, channel string, offset int64) error
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg     Config
	logger  *slog.Logger
	client  *http.Client
	offsets OffsetStore

	// baseURL is the Bot API base URL (<api_url>/bot<token>).
	baseURL string

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last fetched update ID + 1. saved is the value last
	// written to the OffsetStore; it trails offset until the batch that
	// advanced offset has been handed off. Only the supervisor goroutine
	// calls Poll, but Connect may reload both.
	offset int64
	saved  int64
	mu     sync.Mutex
}

// New creates a new Telegram channel instance. offsets may be nil, in which
// case the offset lives only in memory.
func New(cfg Config, offsets OffsetStore, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Telegram{
		cfg:     cfg,
		logger:  logger.With("component", "telegram"),
		client:  &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
		offsets: offsets,
		baseURL: strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
	}
}

// ---------- Channel Interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and restores the persisted offset.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}

	me, err := t.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}

	if t.offsets != nil {
		off, err := t.offsets.LoadOffset(ctx, t.Name())
		if err != nil {
			t.logger.Warn("telegram: could not load offset, starting from server state", "error", err)
		} else {
			t.mu.Lock()
			if off > t.offset {
				t.offset = off
			}
			if off > t.saved {
				t.saved = off
			}
			t.mu.Unlock()
		}
	}

	t.connected.Store(true)
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID, "offset", t.currentOffset())
	return nil
}

// Disconnect commits the offset of the last handed-off batch and marks the
// channel as disconnected. Long polling holds no persistent connection.
func (t *Telegram) Disconnect() error {
	if t.connected.Swap(false) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.commitOffset(ctx)
		cancel()
		t.logger.Info("telegram: disconnected")
	}
	return nil
}

// Poll performs one getUpdates long-poll request and converts the result.
// The caller asks for the next batch only after dispatching the previous
// one, so that is when the previous batch's offset is persisted. A crash
// mid-batch redelivers the batch instead of losing it.
func (t *Telegram) Poll(ctx context.Context) ([]*channels.IncomingMessage, error) {
	if !t.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}

	t.commitOffset(ctx)

	offset := t.currentOffset()
	updates, err := t.getUpdates(ctx, offset, 100, t.cfg.PollTimeout)
	if err != nil {
		t.errorCount.Add(1)
		return nil, err
	}
	t.errorCount.Store(0)

	var out []*channels.IncomingMessage
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
		if msg := t.processUpdate(ctx, u); msg != nil {
			out = append(out, msg)
		}
	}

	if next != offset {
		t.mu.Lock()
		t.offset = next
		t.mu.Unlock()
	}

	if len(out) > 0 {
		t.lastMsg.Store(time.Now())
	}
	return out, nil
}

// Send sends a text message to the specified chat.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	chunks := splitMessage(message.Content, maxMessageLen)
	for i, chunk := range chunks {
		if strings.EqualFold(t.cfg.ParseMode, "HTML") {
			chunk = html.EscapeString(chunk)
		}
		payload := map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}
		if t.cfg.ParseMode != "" {
			payload["parse_mode"] = t.cfg.ParseMode
		}
		if i == 0 && message.ReplyTo != "" {
			if msgID, e := strconv.ParseInt(message.ReplyTo, 10, 64); e == nil {
				payload["reply_parameters"] = map[string]any{"message_id": msgID}
			}
		}
		// Buttons go on the last chunk so they sit under the full reply.
		if i == len(chunks)-1 {
			if markup := buildReplyMarkup(message.Buttons); markup != nil {
				payload["reply_markup"] = markup
			}
		}

		if _, err := t.apiCall(ctx, "sendMessage", payload); err != nil {
			return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
		Details:       map[string]any{"offset": t.currentOffset()},
	}
}

// ---------- Internal Methods ----------

func (t *Telegram) currentOffset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// commitOffset persists the in-memory offset if it moved since the last
// save. A failed save is retried on the next call.
func (t *Telegram) commitOffset(ctx context.Context) {
	if t.offsets == nil {
		return
	}
	t.mu.Lock()
	offset, saved := t.offset, t.saved
	t.mu.Unlock()
	if offset == saved {
		return
	}
	if err := t.offsets.SaveOffset(ctx, t.Name(), offset); err != nil {
		t.logger.Warn("telegram: failed to persist offset", "offset", offset, "error", err)
		return
	}
	t.mu.Lock()
	if offset > t.saved {
		t.saved = offset
	}
	t.mu.Unlock()
}

// splitMessage splits text into chunks of at most maxLen bytes, preferring
// newline boundaries and never cutting a UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		} else {
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// buildReplyMarkup builds an InlineKeyboardMarkup from button rows.
func buildReplyMarkup(rows [][]channels.Button) map[string]any {
	if len(rows) == 0 {
		return nil
	}
	keyboard := make([][]map[string]any, 0, len(rows))
	for _, row := range rows {
		var buttons []map[string]any
		for _, b := range row {
			if b.Text == "" {
				continue
			}
			data := b.Data
			if data == "" {
				data = "1" // Telegram requires callback_data or url
			}
			if len(data) > 64 {
				data = data[:64]
			}
			buttons = append(buttons, map[string]any{"text": b.Text, "callback_data": data})
		}
		if len(buttons) > 0 {
			keyboard = append(keyboard, buttons)
		}
	}
	if len(keyboard) == 0 {
		return nil
	}
	return map[string]any{"inline_keyboard": keyboard}
}

func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// processUpdate converts a Telegram update into an IncomingMessage. It
// returns nil for updates the bot ignores.
func (t *Telegram) processUpdate(ctx context.Context, u tgUpdate) *channels.IncomingMessage {
	if cq := u.CallbackQuery; cq != nil {
		// Stop the client-side spinner regardless of what happens next.
		if _, err := t.apiCall(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": cq.ID}); err != nil {
			t.logger.Debug("telegram: answerCallbackQuery failed", "error", err)
		}
		if cq.Message == nil || !t.chatAllowed(cq.Message.Chat.ID) {
			return nil
		}
		return &channels.IncomingMessage{
			ID:           "cb-" + cq.ID,
			Channel:      t.Name(),
			From:         strconv.FormatInt(cq.From.ID, 10),
			FromName:     displayName(&cq.From),
			ChatID:       strconv.FormatInt(cq.Message.Chat.ID, 10),
			Type:         channels.MessageCallback,
			CallbackData: cq.Data,
			Timestamp:    time.Now(),
		}
	}

	// Edits of earlier messages are never requested and carry no Message.
	msg := u.Message
	if msg == nil {
		return nil
	}
	if msg.From == nil || msg.From.IsBot {
		return nil
	}
	if !t.chatAllowed(msg.Chat.ID) {
		return nil
	}
	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup && !t.cfg.RespondToGroups {
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   t.Name(),
		From:      strconv.FormatInt(msg.From.ID, 10),
		FromName:  displayName(msg.From),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if incoming.Content == "" {
		incoming.Content = msg.Caption
	}
	if strings.TrimSpace(incoming.Content) == "" {
		incoming.Type = channels.MessageUnsupported
	}
	return incoming
}

func displayName(u *tgUser) string {
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	return u.Username
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgMessage struct {
	MessageID int     `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int     `json:"date"`
	Text      string  `json:"text"`
	Caption   string  `json:"caption"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	url := t.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !result.OK {
		if result.ErrorCode == http.StatusUnauthorized || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("telegram: %s: %w: %s", method, channels.ErrUnauthorized, result.Description)
		}
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe(ctx context.Context) (*tgUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "callback_query"},
	}
	data, err := t.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// Compile-time interface verification.
var _ channels.Channel = (*Telegram)(nil)
