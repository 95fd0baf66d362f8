package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// PanicError carries a recovered panic and the stack captured at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Format prints the captured stack for %+v.
func (e *PanicError) Format(s fmt.State, verb rune) {
	io.WriteString(s, e.Error())
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, "\n")
		s.Write(e.Stack)
	}
}

// FormatFailure renders err and its trace, truncated to MaxSegmentLength
// characters.
func FormatFailure(err error) string {
	msg := fmt.Sprintf("An error occurred: %v\n\nTraceback:\n%+v", err, err)
	return truncateRunes(msg, MaxSegmentLength)
}

// Reporter tells users in the originating conversation that their request
// failed.
type Reporter struct {
	sender   Sender
	observer Observer
	logger   *slog.Logger
}

// NewReporter creates a failure reporter.
func NewReporter(sender Sender, observer Observer, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Reporter{
		sender:   sender,
		observer: observer,
		logger:   logger.With("component", "reporter"),
	}
}

// Report logs err and sends one failure message to conv. Without a routable
// conversation, or when the send itself fails, the failure is only logged.
func (r *Reporter) Report(ctx context.Context, conv Conversation, err error) {
	if err == nil {
		return
	}
	logger := loggerFrom(ctx, r.logger)
	logger.Error("event processing failed", "error", fmt.Sprintf("%+v", err))

	if !conv.Valid() {
		logger.Warn("no conversation to report failure to")
		r.observer.FailureReported(false)
		return
	}

	msg := &channels.OutgoingMessage{Content: FormatFailure(err)}
	if sendErr := r.sender.Send(ctx, conv.Channel, conv.ChatID, msg); sendErr != nil {
		logger.Error("failed to deliver failure report",
			"channel", conv.Channel,
			"chat_id", conv.ChatID,
			"error", sendErr,
		)
		r.observer.FailureReported(false)
		return
	}
	r.observer.FailureReported(true)
}
