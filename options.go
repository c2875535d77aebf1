package tally

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for the Tally struct.
type Option func(*Tally)

// WithLogger configures the Tally to log through l.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tally) { t.logger = l }
}

// WithReportingPeriod configures how often the metrics store is flushed.
func WithReportingPeriod(d time.Duration) Option {
	return func(t *Tally) { t.period = d }
}

// WithSinkTimeouts configures the timeouts applied to every push.
func WithSinkTimeouts(timeouts SinkTimeouts) Option {
	return func(t *Tally) { t.timeouts = timeouts }
}

// WithHTTPClient configures the Tally to push with the provided client. The client's
// own timeouts apply and WithSinkTimeouts is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tally) { t.httpClient = c }
}

// WithObserver configures the Tally to report pushes and internal events to o.
func WithObserver(o Observer) Option {
	return func(t *Tally) { t.observer = o }
}

// WithCompression configures both sinks to receive gzip-compressed bodies.
func WithCompression() Option {
	return func(t *Tally) { t.compress = true }
}

// WithBatchedMetrics configures the metrics sink to receive the lines of each flush
// sub-routine in a single request instead of one request per line.
func WithBatchedMetrics() Option {
	return func(t *Tally) { t.batchMetrics = true }
}

// WithHostReader configures where host CPU and memory readings come from.
func WithHostReader(h HostReader) Option {
	return func(t *Tally) { t.host = h }
}

// WithCumulativeRequests configures the HTTP request counters to report lifetime totals
// instead of resetting every reporting period.
func WithCumulativeRequests() Option {
	return func(t *Tally) { t.cumulativeRequests = true }
}

// WithAuthReset configures the auth pass/fail counters to reset every reporting period
// instead of accumulating for the lifetime of the Tally.
func WithAuthReset() Option {
	return func(t *Tally) { t.resetAuth = true }
}

// WithFinalFlush configures Close to run one last flush cycle before returning.
func WithFinalFlush() Option {
	return func(t *Tally) { t.finalFlush = true }
}

// WithMaxInFlight bounds the number of concurrent log pushes. Records shipped beyond the
// bound are dropped.
func WithMaxInFlight(n int64) Option {
	return func(t *Tally) { t.maxInFlight = n }
}
