package tally

import (
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	// defaultPushTimeout bounds every push so a slow sink cannot pile up requests.
	defaultPushTimeout = 5 * time.Second
	// defaultDialTimeout is the default timeout for network dial operations
	defaultDialTimeout = 5 * time.Second
)

// SinkTimeouts configures the timeout values used for pushes to a sink.
// Zero values fall back to the defaults documented on each field.
type SinkTimeouts struct {
	// Total is the overall timeout for one push, including connection establishment and
	// reading the response body. Maps to http.Client.Timeout.
	// Zero uses the tally default (5 seconds).
	Total time.Duration

	// ResponseHeader is the timeout waiting for the sink's response headers after the push
	// has been written. Maps to http.Transport.ResponseHeaderTimeout.
	// Zero means no separate header timeout.
	ResponseHeader time.Duration

	// IdleConn is the maximum duration an idle connection to the sink remains pooled.
	// Maps to http.Transport.IdleConnTimeout.
	// Zero keeps the Go stdlib default.
	IdleConn time.Duration

	// TLSHandshake is the maximum duration waiting for a TLS handshake to complete.
	// Maps to http.Transport.TLSHandshakeTimeout.
	// Zero keeps the Go stdlib default.
	TLSHandshake time.Duration

	// Dial is the maximum duration waiting for a network dial to complete.
	// Zero uses the tally default (5 seconds).
	Dial time.Duration
}

// Validate checks that the SinkTimeouts configuration is valid.
func (t SinkTimeouts) Validate() error {
	switch {
	case t.Total < 0:
		return errors.New("SinkTimeouts.Total cannot be negative")
	case t.ResponseHeader < 0:
		return errors.New("SinkTimeouts.ResponseHeader cannot be negative")
	case t.IdleConn < 0:
		return errors.New("SinkTimeouts.IdleConn cannot be negative")
	case t.TLSHandshake < 0:
		return errors.New("SinkTimeouts.TLSHandshake cannot be negative")
	case t.Dial < 0:
		return errors.New("SinkTimeouts.Dial cannot be negative")
	}
	return nil
}

// newHTTPClient builds the client used for sink pushes from the timeouts.
func newHTTPClient(t SinkTimeouts) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()

	dial := t.Dial
	if dial == 0 {
		dial = defaultDialTimeout
	}
	tr.DialContext = (&net.Dialer{Timeout: dial, KeepAlive: 30 * time.Second}).DialContext

	if t.ResponseHeader > 0 {
		tr.ResponseHeaderTimeout = t.ResponseHeader
	}
	if t.IdleConn > 0 {
		tr.IdleConnTimeout = t.IdleConn
	}
	if t.TLSHandshake > 0 {
		tr.TLSHandshakeTimeout = t.TLSHandshake
	}

	total := t.Total
	if total == 0 {
		total = defaultPushTimeout
	}
	return &http.Client{Transport: tr, Timeout: total}
}
