package relay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// Bot consumes the merged event stream and processes events one at a time.
type Bot struct {
	dispatcher *Dispatcher
	reporter   *Reporter
	observer   Observer
	logger     *slog.Logger
}

// NewBot creates the orchestrator. Failures are reported through sender.
func NewBot(dispatcher *Dispatcher, sender Sender, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		dispatcher: dispatcher,
		reporter:   NewReporter(sender, dispatcher.observer, logger),
		observer:   dispatcher.observer,
		logger:     logger.With("component", "bot"),
	}
}

// Run processes events until the stream closes or ctx is cancelled.
func (b *Bot) Run(ctx context.Context, events <-chan *channels.IncomingMessage) error {
	b.logger.Info("relay started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("relay stopped", "reason", ctx.Err())
			return nil
		case msg, ok := <-events:
			if !ok {
				b.logger.Info("event stream closed")
				return nil
			}
			b.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage processes one transport event end to end: conversion,
// dispatch, and failure reporting for the text track.
func (b *Bot) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	logger := b.logger.With(
		"event_id", uuid.New().String()[:8],
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
	)

	ev, err := EventFromIncoming(msg)
	if err != nil {
		logger.Warn("dropping event", "error", err)
		return
	}
	b.observer.EventReceived(ev.Kind())
	logger = logger.With("kind", ev.Kind())
	ctx = withLogger(ctx, logger)

	err = b.dispatch(ctx, ev)
	if err == nil {
		return
	}

	if _, ok := ev.(*TextMessage); ok {
		b.reporter.Report(ctx, ev.Conversation(), err)
		return
	}
	logger.Error("event processing failed", "error", fmt.Sprintf("%+v", err))
}

// dispatch runs the event, turning panics into errors.
func (b *Bot) dispatch(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return b.dispatcher.Dispatch(ctx, ev)
}
