// Package channels defines the interfaces and types shared by relaybot chat
// transports. Each transport (Telegram, Discord, the local console) implements
// the Channel interface so the relay can receive events and send replies in a
// uniform way.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of incoming event.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageReaction MessageType = "reaction"
)

// Channel defines the interface that every transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified conversation.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming events.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage represents an event received from any channel: either a
// text message or a reaction change.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Type is the event type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent or the reaction changed.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// ReplyToIsBot is true when the replied-to message was authored by this bot.
	ReplyToIsBot bool

	// QuotedContent is the text of the quoted message (if replying).
	QuotedContent string

	// Reaction contains reaction data (if MessageReaction).
	Reaction *ReactionInfo
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// ReactionEntry is one reaction symbol attached to a message.
type ReactionEntry struct {
	// Type is "emoji" or "custom_emoji".
	Type string

	// Emoji is the unicode symbol for "emoji" reactions.
	Emoji string

	// CustomEmojiID identifies platform-specific custom emoji.
	CustomEmojiID string
}

// ReactionInfo contains reaction change data.
type ReactionInfo struct {
	MessageID string // The message being reacted to.
	From      string

	// New holds the reactions present after the change. Empty when the
	// actor removed their reactions.
	New []ReactionEntry
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrChannelNotFound     = fmt.Errorf("channel not found")
)
