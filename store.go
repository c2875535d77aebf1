package tally

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ErrUnknownMethod is returned by NoteHTTP for methods that are not tracked.
var ErrUnknownMethod = errors.New("unknown HTTP method")

// trackedMethods are the counted HTTP methods, in the order they are reported.
var trackedMethods = [...]string{
	http.MethodGet,
	http.MethodDelete,
	http.MethodPut,
	http.MethodPost,
}

// MetricsPusher sends line-protocol lines to a metrics sink. Implementations must not
// return failures to the caller; *SinkClient logs and drops them.
type MetricsPusher interface {
	PushMetrics(ctx context.Context, lines []string)
}

// Snapshot is a point-in-time copy of the store's counters.
type Snapshot struct {
	Requests     map[string]int64
	ActiveUsers  int64
	AuthPassed   int64
	AuthFailed   int64
	PendingSales int
}

// storeConfig carries the settings a Tally hands to its Store.
type storeConfig struct {
	source   string
	period   time.Duration
	host     HostReader
	logger   zerolog.Logger
	observer Observer

	cumulativeRequests bool
	resetAuth          bool
}

// Store holds the process-wide counters and the pending sale records. Counter mutations
// are lock-free; the pending list is guarded by a mutex and drained by swapping it out.
type Store struct {
	cfg  storeConfig
	sink MetricsPusher

	requests    [len(trackedMethods)]atomic.Int64
	activeUsers atomic.Int64
	authPassed  atomic.Int64
	authFailed  atomic.Int64

	mu      sync.Mutex
	pending []SaleRecord
}

func newStore(cfg storeConfig, sink MetricsPusher) *Store {
	if cfg.period <= 0 {
		cfg.period = DefaultReportingPeriod
	}
	if cfg.host == nil {
		cfg.host = defaultHostReader()
	}
	if cfg.observer == nil {
		cfg.observer = nopObserver{}
	}
	return &Store{cfg: cfg, sink: sink}
}

func methodIndex(method string) int {
	for i, m := range trackedMethods {
		if m == method {
			return i
		}
	}
	return -1
}

// NoteHTTP counts one request with the given method. Methods other than GET, POST, PUT
// and DELETE are rejected with ErrUnknownMethod.
func (s *Store) NoteHTTP(method string) error {
	i := methodIndex(method)
	if i < 0 {
		s.cfg.logger.Warn().Str("method", method).Msg("ignoring request with untracked method")
		s.cfg.observer.ObserveEvent(EventInputRejected, map[string]any{"method": method})
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	s.requests[i].Inc()
	return nil
}

// AddUser increments the active-user count.
func (s *Store) AddUser() {
	s.activeUsers.Inc()
}

// RemoveUser decrements the active-user count. The count has no floor.
func (s *Store) RemoveUser() {
	s.activeUsers.Dec()
}

// NoteAuth records an authentication outcome. A successful attempt also counts as a
// newly active user.
func (s *Store) NoteAuth(passed bool) {
	if passed {
		s.authPassed.Inc()
		s.activeUsers.Inc()
		return
	}
	s.authFailed.Inc()
}

// NoteSale appends a pending sale record for the next flush.
func (s *Store) NoteSale(itemCount int, success bool, amount float64, hqLatency, totalLatency time.Duration) error {
	rec := SaleRecord{
		ID:           xid.New(),
		ItemCount:    itemCount,
		Success:      success,
		Amount:       amount,
		HQLatency:    hqLatency,
		TotalLatency: totalLatency,
	}
	if err := rec.validate(); err != nil {
		s.cfg.logger.Warn().Err(err).Int("items", itemCount).Float64("amount", amount).Msg("rejecting sale")
		s.cfg.observer.ObserveEvent(EventInputRejected, map[string]any{"sale": err.Error()})
		return fmt.Errorf("%w: %w", ErrInvalidSale, err)
	}

	s.mu.Lock()
	s.pending = append(s.pending, rec)
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current counter values without resetting them.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Requests:    make(map[string]int64, len(trackedMethods)),
		ActiveUsers: s.activeUsers.Load(),
		AuthPassed:  s.authPassed.Load(),
		AuthFailed:  s.authFailed.Load(),
	}
	for i, m := range trackedMethods {
		snap.Requests[m] = s.requests[i].Load()
	}
	s.mu.Lock()
	snap.PendingSales = len(s.pending)
	s.mu.Unlock()
	return snap
}

// drainSales swaps out the pending list so that concurrent NoteSale calls land in a
// fresh list and every record is aggregated exactly once.
func (s *Store) drainSales() []SaleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.pending
	s.pending = nil
	return drained
}

// FlushHTTP pushes the total request count and the per-method breakdown. The counters
// are reset unless cumulative request counting is enabled.
func (s *Store) FlushHTTP(ctx context.Context) error {
	var (
		counts [len(trackedMethods)]int64
		total  int64
	)
	for i := range trackedMethods {
		if s.cfg.cumulativeRequests {
			counts[i] = s.requests[i].Load()
		} else {
			counts[i] = s.requests[i].Swap(0)
		}
		total += counts[i]
	}

	points := make([]*point, 0, len(trackedMethods)+1)
	points = append(points, s.line("request").tag("method", "all").intField("total", total))
	for i, m := range trackedMethods {
		points = append(points, s.line("request").tag("method", m).intField("total", counts[i]))
	}
	return s.push(ctx, points...)
}

// FlushSystem pushes host CPU and memory utilization.
func (s *Store) FlushSystem(ctx context.Context) error {
	stats, err := s.cfg.host.ReadHost()
	if errors.Is(err, ErrHostStatsUnsupported) {
		s.cfg.logger.Debug().Msg("skipping system metrics")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading host stats: %w", err)
	}
	return s.push(ctx,
		s.line("system").floatField("CPU", CPUPercent(stats)),
		s.line("system").floatField("MEM", MemoryPercent(stats)),
	)
}

// FlushUsers pushes the active-user count.
func (s *Store) FlushUsers(ctx context.Context) error {
	return s.push(ctx, s.line("activeUsers").intField("numActiveUsers", s.activeUsers.Load()))
}

// FlushSales aggregates and purges the pending sale records, then pushes units sold,
// revenue, failed sales and the period-normalized latencies.
func (s *Store) FlushSales(ctx context.Context) error {
	records := s.drainSales()
	sum := summarizeSales(records, s.cfg.period)
	ids := zerolog.Arr()
	for _, rec := range records {
		if rec.Counted {
			ids.Str(rec.ID.String())
		}
	}
	s.cfg.logger.Debug().Array("sales", ids).Msg("aggregated pending sales")

	return s.push(ctx,
		s.line("sales").intField("unitsSold", sum.UnitsSold),
		s.line("sales").floatField("totalRevenue", sum.TotalRevenue),
		s.line("sales").intField("creationErrors", sum.Failures),
		s.line("latency").floatField("HQ-delay", sum.HQDelay),
		s.line("latency").floatField("elapsedTime", sum.ElapsedTime),
	)
}

// FlushAuth pushes the authentication pass and fail counts. They accumulate for the
// lifetime of the store unless auth reset is enabled.
func (s *Store) FlushAuth(ctx context.Context) error {
	var passed, failed int64
	if s.cfg.resetAuth {
		passed, failed = s.authPassed.Swap(0), s.authFailed.Swap(0)
	} else {
		passed, failed = s.authPassed.Load(), s.authFailed.Load()
	}
	return s.push(ctx,
		s.line("auth").intField("Pass", passed),
		s.line("auth").intField("Fail", failed),
	)
}

func (s *Store) line(measurement string) *point {
	return newPoint(measurement).tag("source", s.cfg.source)
}

// push encodes points and hands the lines to the metrics sink. Nothing is pushed when
// any point fails to encode.
func (s *Store) push(ctx context.Context, points ...*point) error {
	lines, err := encodeLines(points...)
	if err != nil {
		return err
	}
	s.sink.PushMetrics(ctx, lines)
	return nil
}
