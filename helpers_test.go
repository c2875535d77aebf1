package tally

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

//
// Mocks
//

// captured is one request received by a captureServer.
type captured struct {
	Header http.Header
	Body   string
}

// captureServer is a sink that records every push and answers with a fixed status.
type captureServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []captured
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer zr.Close()
			reader = zr
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cs.mu.Lock()
		cs.requests = append(cs.requests, captured{Header: r.Header.Clone(), Body: string(body)})
		cs.mu.Unlock()

		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("sink says no"))
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) Requests() []captured {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]captured(nil), cs.requests...)
}

// Lines returns every line-protocol line received so far.
func (cs *captureServer) Lines() []string {
	var lines []string
	for _, req := range cs.Requests() {
		lines = append(lines, strings.Split(req.Body, "\n")...)
	}
	return lines
}

// recordingPusher records pushes in memory, standing in for a SinkClient.
type recordingPusher struct {
	mu      sync.Mutex
	batches [][]string
	records []LogRecord

	block chan struct{} // when non-nil, PushLog waits for it to close
}

func (p *recordingPusher) PushMetrics(_ context.Context, lines []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]string(nil), lines...))
}

func (p *recordingPusher) PushLog(_ context.Context, rec LogRecord) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
}

func (p *recordingPusher) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lines []string
	for _, b := range p.batches {
		lines = append(lines, b...)
	}
	return lines
}

func (p *recordingPusher) Batches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.batches...)
}

func (p *recordingPusher) Records() []LogRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogRecord(nil), p.records...)
}

func (p *recordingPusher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = nil
	p.records = nil
}

// recordingObserver records everything it observes.
type recordingObserver struct {
	mu     sync.Mutex
	pushes []PushMetrics
	events []string
}

func (o *recordingObserver) ObservePush(m PushMetrics) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pushes = append(o.pushes, m)
}

func (o *recordingObserver) ObserveEvent(name string, _ map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, name)
}

func (o *recordingObserver) Pushes() []PushMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PushMetrics(nil), o.pushes...)
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// syncBuffer is a goroutine-safe log destination.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

//
// Helper functions
//

func testLogger() (zerolog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel), buf
}

func testConfig(metricsURL, logsURL string) Config {
	return Config{
		Metrics: SinkConfig{Source: "test", URL: metricsURL, UserID: "1234", APIKey: "metrics-key"},
		Logging: SinkConfig{Source: "test", URL: logsURL, UserID: "5678", APIKey: "logs-key"},
	}
}

func fixedHost(stats HostStats) HostReader {
	return HostReaderFunc(func() (HostStats, error) { return stats, nil })
}

func newTestStore(pusher MetricsPusher, mutate ...func(*storeConfig)) *Store {
	logger, _ := testLogger()
	cfg := storeConfig{
		source: "test",
		period: 10 * time.Second,
		host:   fixedHost(HostStats{Load1: 1, CPUs: 4, TotalMemory: 100, FreeMemory: 60}),
		logger: logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return newStore(cfg, pusher)
}

func newTestShipper(pusher LogPusher, mutate ...func(*shipperConfig)) *Shipper {
	logger, _ := testLogger()
	cfg := shipperConfig{source: "test", logger: logger}
	for _, m := range mutate {
		m(&cfg)
	}
	return newShipper(cfg, pusher)
}

// metricValue finds the line starting with prefix that carries field and returns the
// field's value.
func metricValue(t *testing.T, lines []string, prefix, field string) float64 {
	t.Helper()
	for _, line := range lines {
		if !strings.HasPrefix(line, prefix+" ") {
			continue
		}
		_, fields, _ := strings.Cut(line, " ")
		for _, kv := range strings.Split(fields, ",") {
			key, value, ok := strings.Cut(kv, "=")
			if ok && key == field {
				v, err := strconv.ParseFloat(value, 64)
				require.NoError(t, err)
				return v
			}
		}
	}
	t.Fatalf("no line %q with field %q in %v", prefix, field, lines)
	return 0
}
