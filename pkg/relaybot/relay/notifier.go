package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// reactionNote is the user turn sent for a reaction change.
type reactionNote struct {
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	Emoji     string `json:"emoji"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
}

// Notifier forwards reaction changes to the completion service as context
// notes. Results are discarded and failures never leave the notifier.
type Notifier struct {
	completer Completer
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotifier creates a reaction notifier.
func NewNotifier(completer Completer, observer Observer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Notifier{
		completer: completer,
		observer:  observer,
		logger:    logger.With("component", "reactions"),
		now:       time.Now,
	}
}

// Notify sends one note for r and waits for the call to finish. Callers
// must only pass changes with at least one new reaction.
func (n *Notifier) Notify(ctx context.Context, r *ReactionChange) {
	logger := loggerFrom(ctx, n.logger)
	if len(r.NewReactions) == 0 {
		return
	}

	ts := r.Date
	if ts.IsZero() {
		ts = n.now()
	}
	note := reactionNote{
		UserID:    r.ActorID,
		ChatID:    r.ConversationID,
		Emoji:     r.NewReactions[0].Symbol(),
		MessageID: r.TargetMessageID,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Action:    "added",
	}

	payload, err := json.Marshal(note)
	if err != nil {
		logger.Error("failed to encode reaction note", "error", err)
		return
	}
	logger.Info("reaction received", "note", string(payload))

	start := time.Now()
	result, err := n.completer.Complete(ctx, ReactionSystemPrompt, string(payload))
	n.observer.CompletionObserved("reaction", completionStatus(err), time.Since(start))
	if err != nil {
		logger.Error("reaction note failed", "error", err)
		return
	}
	logger.Debug("reaction note acknowledged", "result", result)
}
