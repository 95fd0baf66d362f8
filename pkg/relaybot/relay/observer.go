package relay

import "time"

// Observer receives processing hooks. The metrics package implements it
// with Prometheus collectors.
type Observer interface {
	EventReceived(kind string)
	EventHandled(kind, outcome string)
	CompletionObserved(track, status string, took time.Duration)
	SegmentsSent(channel string, n int)
	FailureReported(delivered bool)
}

type nopObserver struct{}

func (nopObserver) EventReceived(string) {}
func (nopObserver) EventHandled(string, string) {}
func (nopObserver) CompletionObserved(string, string, time.Duration) {}
func (nopObserver) SegmentsSent(string, int) {}
func (nopObserver) FailureReported(bool) {}
