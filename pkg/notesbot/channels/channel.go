// Package channels defines the interfaces and types shared by the notesbot
// update sources. Each channel (Telegram, Discord, the local console)
// implements Channel so the supervisor can pull updates and send replies in a
// unified way.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of inbound update.
type MessageType string

const (
	// MessageText is a plain text message (slash commands included).
	MessageText MessageType = "text"

	// MessageCallback is a button press carrying CallbackData.
	MessageCallback MessageType = "callback"

	// MessageUnsupported is any update without usable text (stickers,
	// photos without caption, etc.).
	MessageUnsupported MessageType = "unsupported"
)

// Channel defines the interface that every update source must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. It must be safe to call on a
	// channel that never connected.
	Disconnect() error

	// Poll blocks until at least one update is available, the platform's
	// long-poll window elapses (returning an empty batch), or ctx is done.
	// Updates are returned in arrival order.
	Poll(ctx context.Context) ([]*IncomingMessage, error)

	// Send sends a message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage represents an update received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform. It is the ChatIdentity
	// the session store is keyed on.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is where replies go (DM or group id).
	ChatID string

	// Type is the update kind.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// CallbackData is the payload of the pressed button when Type is
	// MessageCallback.
	CallbackData string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// Button is a selectable action attached to an outgoing message.
type Button struct {
	Text string
	Data string
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is plain text. Channels that render markup (Telegram HTML)
	// escape it themselves.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Buttons are rendered as one row per slice element.
	Buttons [][]Button
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")

	// ErrUnauthorized is returned when the platform rejects the bot
	// credentials. The supervisor keeps retrying but logs it as an error.
	ErrUnauthorized = errors.New("channel credentials rejected")
)
