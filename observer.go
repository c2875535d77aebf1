package tally

import "time"

// Observer is a pluggable observer for sink pushes and internal events.
// Implementations must be non-blocking or very fast; tally invokes the observer
// best-effort from flush and dispatch goroutines and does not wait for it.
type Observer interface {
	ObservePush(PushMetrics)
	ObserveEvent(name string, fields map[string]any)
}

// PushMetrics is a payload-free summary of one push to a sink.
type PushMetrics struct {
	Sink       string
	URL        string
	StatusCode int
	SizeBytes  int64
	Err        string
	Duration   time.Duration
	Timing     PushTiming
}

// Event names reported through Observer.ObserveEvent.
const (
	EventFlushFailed   = "flush_failed"
	EventLogDropped    = "log_dropped"
	EventInputRejected = "input_rejected"
)

// nopObserver discards everything.
type nopObserver struct{}

func (nopObserver) ObservePush(PushMetrics)             {}
func (nopObserver) ObserveEvent(string, map[string]any) {}
