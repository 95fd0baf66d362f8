package relay

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
	"github.com/jholhewres/relaybot/pkg/relaybot/llm"
	"github.com/jholhewres/relaybot/pkg/relaybot/state"
)

// Completer produces a completion for one system turn and one user turn.
// *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userContent string) (string, error)
}

// Sender delivers a message to a conversation on a named channel.
// *channels.Manager satisfies it.
type Sender interface {
	Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error
}

// Options tunes the dispatcher.
type Options struct {
	// DefaultBranch is used when a conversation has no branch selected.
	DefaultBranch string

	// MaxReplyLength is the segment ceiling for replies.
	MaxReplyLength int

	// Reactions enables the reaction track.
	Reactions bool

	// Filter overrides the default intent filter.
	Filter *IntentFilter

	// Observer receives metrics hooks.
	Observer Observer
}

// Dispatcher routes events to the text track or the reaction track.
type Dispatcher struct {
	completer Completer
	sender    Sender
	store     state.Store
	filter    *IntentFilter
	notifier  *Notifier
	commands  *Commands
	observer  Observer

	defaultBranch string
	maxLen        int
	reactions     bool

	logger *slog.Logger
}

// NewDispatcher wires a dispatcher around the completion client, the
// outbound sender and the conversation store.
func NewDispatcher(completer Completer, sender Sender, store state.Store, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatcher")

	if opts.DefaultBranch == "" {
		opts.DefaultBranch = DefaultBranch
	}
	if opts.MaxReplyLength <= 0 {
		opts.MaxReplyLength = MaxSegmentLength
	}
	if opts.Filter == nil {
		opts.Filter = defaultFilter
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Dispatcher{
		completer:     completer,
		sender:        sender,
		store:         store,
		filter:        opts.Filter,
		notifier:      NewNotifier(completer, opts.Observer, logger),
		commands:      NewCommands(store, opts.DefaultBranch),
		observer:      opts.Observer,
		defaultBranch: opts.DefaultBranch,
		maxLen:        opts.MaxReplyLength,
		reactions:     opts.Reactions,
		logger:        logger,
	}
}

// Dispatch processes one event. Errors returned from the text track are
// meant for the Failure Reporter; the reaction track never returns errors.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	return ev.Dispatch(ctx, d)
}

func (d *Dispatcher) handleText(ctx context.Context, m *TextMessage) error {
	logger := loggerFrom(ctx, d.logger)
	conv := m.Conversation()

	if IsCommand(m.Text) {
		res, err := d.commands.Handle(ctx, m)
		if err != nil {
			return err
		}
		if res.Handled {
			logger.Info("command handled", "command", res.Command)
			d.observer.EventHandled(m.Kind(), "command")
			return d.send(ctx, conv, "", res.Response)
		}
	}

	if !d.filter.ShouldRespond(m.Text, m.HasBotReplyContext()) {
		logger.Debug("message not addressed to bot")
		d.observer.EventHandled(m.Kind(), "ignored")
		return nil
	}

	if err := d.reply(ctx, m); err != nil {
		d.observer.EventHandled(m.Kind(), "failed")
		return err
	}
	d.observer.EventHandled(m.Kind(), "replied")
	return nil
}

// reply runs the completion for an accepted message and sends the result.
func (d *Dispatcher) reply(ctx context.Context, m *TextMessage) error {
	conv := m.Conversation()

	sc, err := d.store.Get(ctx, conv.Key())
	if err != nil {
		return errors.Wrap(err, "loading conversation state")
	}
	branch := sc.CurrentBranch
	if branch == "" {
		branch = d.defaultBranch
	}

	start := time.Now()
	text, err := d.completer.Complete(ctx, ReplySystemPrompt(branch), m.Text)
	d.observer.CompletionObserved("reply", completionStatus(err), time.Since(start))
	if err != nil {
		return err
	}

	replyTo := ""
	if m.IsGroup {
		replyTo = m.ID
	}
	return d.send(ctx, conv, replyTo, text)
}

// send chunks text and delivers the segments in order. replyTo, when set,
// is attached to the first segment only.
func (d *Dispatcher) send(ctx context.Context, conv Conversation, replyTo, text string) error {
	segments := Chunk(text, d.maxLen)
	var sent int
	err := SendChunks(ctx, segments, func(ctx context.Context, seg string) error {
		msg := &channels.OutgoingMessage{Content: seg}
		if sent == 0 {
			msg.ReplyTo = replyTo
		}
		if err := d.sender.Send(ctx, conv.Channel, conv.ChatID, msg); err != nil {
			return errors.Wrapf(err, "sending segment %d/%d", sent+1, len(segments))
		}
		sent++
		return nil
	})
	d.observer.SegmentsSent(conv.Channel, sent)
	return err
}

func (d *Dispatcher) handleReaction(ctx context.Context, r *ReactionChange) error {
	if !d.reactions || len(r.NewReactions) == 0 {
		loggerFrom(ctx, d.logger).Debug("reaction ignored", "reactions", len(r.NewReactions))
		d.observer.EventHandled(r.Kind(), "ignored")
		return nil
	}

	d.notifier.Notify(ctx, r)
	d.observer.EventHandled(r.Kind(), "noted")
	return nil
}

func completionStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var te *llm.TransportError
	if stderrors.As(err, &te) {
		return strconv.Itoa(te.Status)
	}
	if stderrors.Is(err, llm.ErrMalformedResponse) {
		return "malformed"
	}
	return "error"
}

type loggerKey struct{}

// withLogger attaches an event-scoped logger to ctx.
func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}
