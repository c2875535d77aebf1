// Package tally aggregates operational telemetry in-process. Request handlers record
// HTTP methods, auth outcomes, active users and sales on a Store; a background job
// periodically flushes derived metrics to a line-protocol push endpoint. A Shipper streams
// discrete log records (queries, factory orders, exceptions, HTTP exchanges) to a log
// push endpoint. Delivery is best-effort: failed pushes are logged and dropped.
package tally

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jkbrsn/taskman"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tally owns the metrics store, its flush schedule and the log shipper.
type Tally struct {
	store       *Store
	shipper     *Shipper
	taskManager *taskman.TaskManager
	jobID       string

	metricsSink *SinkClient
	logSink     *SinkClient

	// Settings, applied through options.
	logger             zerolog.Logger
	period             time.Duration
	timeouts           SinkTimeouts
	httpClient         *http.Client
	observer           Observer
	compress           bool
	batchMetrics       bool
	host               HostReader
	cumulativeRequests bool
	resetAuth          bool
	finalFlush         bool
	maxInFlight        int64

	closeOnce sync.Once
}

// New creates, starts, and returns a new Tally pushing to the sinks in cfg. The first
// flush fires one reporting period after New returns.
func New(cfg Config, opts ...Option) (*Tally, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &Tally{
		logger:   log.Logger,
		period:   DefaultReportingPeriod,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.observer == nil {
		t.observer = nopObserver{}
	}
	if t.period <= 0 {
		return nil, fmt.Errorf("reporting period must be positive, got %s", t.period)
	}
	if err := t.timeouts.Validate(); err != nil {
		return nil, err
	}
	if t.httpClient == nil {
		t.httpClient = newHTTPClient(t.timeouts)
	}

	sinkOpts := []SinkOption{
		WithSinkHTTPClient(t.httpClient),
		WithSinkObserver(t.observer),
		WithSinkLogger(t.logger),
	}
	if t.compress {
		sinkOpts = append(sinkOpts, WithSinkCompression())
	}
	metricsOpts := sinkOpts
	if t.batchMetrics {
		metricsOpts = append([]SinkOption{WithSinkBatching()}, sinkOpts...)
	}
	t.metricsSink = NewSinkClient("metrics", cfg.Metrics, metricsOpts...)
	t.logSink = NewSinkClient("logs", cfg.Logging, sinkOpts...)

	t.store = newStore(storeConfig{
		source:             cfg.Metrics.Source,
		period:             t.period,
		host:               t.host,
		logger:             t.logger,
		observer:           t.observer,
		cumulativeRequests: t.cumulativeRequests,
		resetAuth:          t.resetAuth,
	}, t.metricsSink)
	t.shipper = newShipper(shipperConfig{
		source:      cfg.Logging.Source,
		logger:      t.logger,
		observer:    t.observer,
		maxInFlight: t.maxInFlight,
	}, t.logSink)

	t.jobID = "flush-" + xid.New().String()
	t.taskManager = taskman.New()
	if err := t.taskManager.ScheduleJob(t.store.job(t.jobID)); err != nil {
		t.taskManager.Stop()
		return nil, fmt.Errorf("scheduling flush job: %w", err)
	}
	t.logger.Debug().Str("job", t.jobID).Dur("period", t.period).Msg("flush job scheduled")

	return t, nil
}

// Store returns the metrics store that request handlers record events on.
func (t *Tally) Store() *Store {
	return t.store
}

// Shipper returns the log shipper.
func (t *Tally) Shipper() *Shipper {
	return t.shipper
}

// Flush runs one flush cycle immediately, outside the schedule.
func (t *Tally) Flush(ctx context.Context) {
	t.store.Flush(ctx)
}

// Close stops the flush schedule, runs a final flush when configured to, and waits for
// in-flight log pushes.
func (t *Tally) Close() error {
	t.closeOnce.Do(func() {
		t.taskManager.Stop()
		if t.finalFlush {
			ctx, cancel := context.WithTimeout(context.Background(), t.period)
			t.store.Flush(ctx)
			cancel()
		}
		_ = t.shipper.Close()
	})
	return nil
}
