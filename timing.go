package tally

import (
	"crypto/tls"
	"net/http/httptrace"
	"time"

	"go.uber.org/atomic"
)

// pushTimestamps stores the timestamps of a push's phases. Fields are written from
// httptrace callbacks, which may run on transport goroutines.
type pushTimestamps struct {
	start     atomic.Time
	dnsStart  atomic.Time
	dnsDone   atomic.Time
	connStart atomic.Time
	connDone  atomic.Time
	tlsStart  atomic.Time
	tlsDone   atomic.Time
	wroteDone atomic.Time
	firstByte atomic.Time
}

// trace returns a ClientTrace recording into ts.
func (ts *pushTimestamps) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		// GetConn is the earliest callback guaranteed to fire.
		GetConn:           func(string) { ts.start.Store(time.Now()) },
		DNSStart:          func(httptrace.DNSStartInfo) { ts.dnsStart.Store(time.Now()) },
		DNSDone:           func(httptrace.DNSDoneInfo) { ts.dnsDone.Store(time.Now()) },
		ConnectStart:      func(_, _ string) { ts.connStart.Store(time.Now()) },
		ConnectDone:       func(_, _ string, _ error) { ts.connDone.Store(time.Now()) },
		TLSHandshakeStart: func() { ts.tlsStart.Store(time.Now()) },
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			ts.tlsDone.Store(time.Now())
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			ts.wroteDone.Store(time.Now())
		},
		GotFirstResponseByte: func() { ts.firstByte.Store(time.Now()) },
	}
}

// PushTiming breaks a push down into its network phases.
type PushTiming struct {
	// Latency is the time from acquiring a connection to the first response byte.
	Latency time.Duration

	// Optional durations, nil when the phase did not happen (e.g. on a reused connection)
	DNSLookup        *time.Duration
	TCPConnect       *time.Duration
	TLSHandshake     *time.Duration
	ServerProcessing *time.Duration // request written to first response byte
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T { return &v }

// between returns the duration from a to b, or nil unless both were recorded.
func between(a, b *atomic.Time) *time.Duration {
	from, to := a.Load(), b.Load()
	if from.IsZero() || to.IsZero() {
		return nil
	}
	return ptr(to.Sub(from))
}

// timing derives the phase durations from the recorded timestamps.
func (ts *pushTimestamps) timing() PushTiming {
	var t PushTiming
	if d := between(&ts.start, &ts.firstByte); d != nil {
		t.Latency = *d
	}
	t.DNSLookup = between(&ts.dnsStart, &ts.dnsDone)
	t.TCPConnect = between(&ts.connStart, &ts.connDone)
	t.TLSHandshake = between(&ts.tlsStart, &ts.tlsDone)
	t.ServerProcessing = between(&ts.wroteDone, &ts.firstByte)
	return t
}
