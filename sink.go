package tally

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

const (
	// maxErrorBody caps how much of a failed push's response body is logged.
	maxErrorBody = 4 << 10

	lineContentType = "text/plain; charset=utf-8"
)

// SinkClient pushes metric lines and log records to one remote sink. It holds no
// aggregation state. Push failures are logged and swallowed; nothing is retried.
type SinkClient struct {
	name     string
	cfg      SinkConfig
	client   *http.Client
	compress bool
	batch    bool
	observer Observer
	logger   zerolog.Logger
}

// SinkOption is a functional option for the SinkClient struct.
type SinkOption func(*SinkClient)

// WithSinkHTTPClient configures the SinkClient to push with the provided client.
func WithSinkHTTPClient(c *http.Client) SinkOption {
	return func(s *SinkClient) { s.client = c }
}

// WithSinkCompression configures the SinkClient to gzip request bodies.
func WithSinkCompression() SinkOption {
	return func(s *SinkClient) { s.compress = true }
}

// WithSinkBatching configures the SinkClient to send all lines of a PushMetrics call in
// one request body, newline separated, instead of one request per line.
func WithSinkBatching() SinkOption {
	return func(s *SinkClient) { s.batch = true }
}

// WithSinkObserver configures the SinkClient to report every push to o.
func WithSinkObserver(o Observer) SinkOption {
	return func(s *SinkClient) { s.observer = o }
}

// WithSinkLogger configures the SinkClient to log through l.
func WithSinkLogger(l zerolog.Logger) SinkOption {
	return func(s *SinkClient) { s.logger = l }
}

// NewSinkClient creates a SinkClient named name (used in logs and push metrics) for the
// sink described by cfg.
func NewSinkClient(name string, cfg SinkConfig, opts ...SinkOption) *SinkClient {
	s := &SinkClient{
		name:     name,
		cfg:      cfg,
		observer: nopObserver{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = newHTTPClient(SinkTimeouts{})
	}
	s.logger = s.logger.With().Str("sink", name).Logger()
	return s
}

// PushMetrics sends each line-protocol line as its own request, or all of them in one
// newline-separated body when batching is enabled.
func (s *SinkClient) PushMetrics(ctx context.Context, lines []string) {
	if len(lines) == 0 {
		return
	}
	if s.batch {
		body := strings.Join(lines, "\n")
		s.push(ctx, []byte(body), lineContentType, body)
		return
	}
	for _, line := range lines {
		s.push(ctx, []byte(line), lineContentType, line)
	}
}

// PushLog sends a single log record wrapped in a stream envelope.
func (s *SinkClient) PushLog(ctx context.Context, rec LogRecord) {
	body, err := encodeRecord(rec)
	if err != nil {
		s.logger.Error().Err(err).Str("label", string(rec.Label)).Msg("failed to encode log record")
		s.observer.ObservePush(PushMetrics{Sink: s.name, URL: s.cfg.URL, Err: err.Error()})
		return
	}
	s.push(ctx, body, "application/json", string(rec.Label))
}

// push performs one POST to the sink. desc identifies the payload in log lines.
func (s *SinkClient) push(ctx context.Context, body []byte, contentType, desc string) {
	start := time.Now()
	result := PushMetrics{Sink: s.name, URL: s.cfg.URL, SizeBytes: int64(len(body))}
	ts := &pushTimestamps{}
	defer func() {
		result.Duration = time.Since(start)
		result.Timing = ts.timing()
		s.observer.ObservePush(result)
	}()
	ctx = httptrace.WithClientTrace(ctx, ts.trace())

	req, err := s.newRequest(ctx, body, contentType)
	if err != nil {
		result.Err = err.Error()
		s.logger.Error().Err(err).Str("payload", desc).Msg("failed to build push request")
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		result.Err = err.Error()
		s.logger.Error().Err(err).Str("payload", desc).Msg("error pushing to sink")
		return
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		result.Err = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
		s.logger.Error().
			Int("status", resp.StatusCode).
			Str("response", string(respBody)).
			Str("payload", desc).
			Msg("failed to push to sink")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	s.logger.Debug().Str("payload", desc).Dur("latency", ts.timing().Latency).Msg("pushed")
}

func (s *SinkClient) newRequest(ctx context.Context, body []byte, contentType string) (*http.Request, error) {
	var encoding string
	if s.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("compressing body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compressing body: %w", err)
		}
		body = buf.Bytes()
		encoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.cfg.bearer())
	req.Header.Set("Content-Type", contentType)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	return req, nil
}
