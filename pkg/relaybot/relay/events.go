// Package relay routes chat-platform events to the completion service and
// back. Text messages that pass the intent filter are answered with a
// completion split into platform-sized segments; reaction changes are
// forwarded as side-channel notes whose results are discarded. Failures on
// the text track are reported back into the originating conversation.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
	"github.com/jholhewres/relaybot/pkg/relaybot/state"
)

// Conversation identifies where an event came from and where replies go.
type Conversation struct {
	Channel string
	ChatID  string
}

// Key returns the state store key for the conversation.
func (c Conversation) Key() string { return state.Key(c.Channel, c.ChatID) }

// Valid reports whether replies can be routed to the conversation.
func (c Conversation) Valid() bool { return c.Channel != "" && c.ChatID != "" }

// Event is an inbound chat-platform event. Each variant dispatches itself to
// its own processing track.
type Event interface {
	// Kind names the variant for logs and metrics.
	Kind() string

	// Conversation returns the originating conversation.
	Conversation() Conversation

	// Dispatch runs the event through its track on d.
	Dispatch(ctx context.Context, d *Dispatcher) error
}

// ReplyRef describes the message a text message replies to.
type ReplyRef struct {
	MessageID string

	// AuthorIsBot is true when the referenced message was written by this bot.
	AuthorIsBot bool
}

// TextMessage is a user-authored text message.
type TextMessage struct {
	Channel        string
	ID             string
	Text           string
	SenderID       string
	SenderName     string
	ConversationID string
	IsGroup        bool
	ReplyTo        *ReplyRef
}

func (m *TextMessage) Kind() string { return "text" }

func (m *TextMessage) Conversation() Conversation {
	return Conversation{Channel: m.Channel, ChatID: m.ConversationID}
}

// HasBotReplyContext reports whether the message replies to this bot.
func (m *TextMessage) HasBotReplyContext() bool {
	return m.ReplyTo != nil && m.ReplyTo.AuthorIsBot
}

func (m *TextMessage) Dispatch(ctx context.Context, d *Dispatcher) error {
	return d.handleText(ctx, m)
}

// Reaction is one reaction symbol.
type Reaction struct {
	Type          string
	Emoji         string
	CustomEmojiID string
}

// Symbol returns the emoji itself, or "custom:<id>" for custom emoji.
func (r Reaction) Symbol() string {
	if r.Emoji == "" && r.CustomEmojiID != "" {
		return "custom:" + r.CustomEmojiID
	}
	return r.Emoji
}

// ReactionChange reports that an actor changed their reactions on a message.
// An empty NewReactions means the reactions were removed.
type ReactionChange struct {
	Channel         string
	ActorID         string
	ConversationID  string
	TargetMessageID string
	NewReactions    []Reaction
	Date            time.Time
}

func (r *ReactionChange) Kind() string { return "reaction" }

func (r *ReactionChange) Conversation() Conversation {
	return Conversation{Channel: r.Channel, ChatID: r.ConversationID}
}

func (r *ReactionChange) Dispatch(ctx context.Context, d *Dispatcher) error {
	return d.handleReaction(ctx, r)
}

// EventFromIncoming converts a transport message into a relay event.
func EventFromIncoming(msg *channels.IncomingMessage) (Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil incoming message")
	}

	switch msg.Type {
	case channels.MessageText, "":
		m := &TextMessage{
			Channel:        msg.Channel,
			ID:             msg.ID,
			Text:           msg.Content,
			SenderID:       msg.From,
			SenderName:     msg.FromName,
			ConversationID: msg.ChatID,
			IsGroup:        msg.IsGroup,
		}
		if msg.ReplyTo != "" || msg.ReplyToIsBot {
			m.ReplyTo = &ReplyRef{MessageID: msg.ReplyTo, AuthorIsBot: msg.ReplyToIsBot}
		}
		return m, nil

	case channels.MessageReaction:
		if msg.Reaction == nil {
			return nil, fmt.Errorf("reaction event %s without reaction data", msg.ID)
		}
		r := &ReactionChange{
			Channel:         msg.Channel,
			ActorID:         msg.Reaction.From,
			ConversationID:  msg.ChatID,
			TargetMessageID: msg.Reaction.MessageID,
			Date:            msg.Timestamp,
		}
		if r.ActorID == "" {
			r.ActorID = msg.From
		}
		for _, e := range msg.Reaction.New {
			r.NewReactions = append(r.NewReactions, Reaction{
				Type:          e.Type,
				Emoji:         e.Emoji,
				CustomEmojiID: e.CustomEmojiID,
			})
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unsupported event type %q", msg.Type)
	}
}
