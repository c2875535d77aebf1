package tally

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// defaultMaxInFlight bounds concurrent log pushes from request paths.
const defaultMaxInFlight = 64

// LogPusher sends a log record to a log sink. Implementations must not return failures
// to the caller; *SinkClient logs and drops them.
type LogPusher interface {
	PushLog(ctx context.Context, rec LogRecord)
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is an error with an HTTP status code.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status of the error.
func (e *HTTPError) StatusCode() int { return e.Status }

// ErrorHandlerFunc handles an error raised while serving r.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// Shipper builds log records and dispatches them to a log sink. Dispatch is
// fire-and-forget: callers never wait on the sink.
type Shipper struct {
	source   string
	sink     LogPusher
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time

	inFlight *semaphore.Weighted
	wg       sync.WaitGroup

	mu     sync.RWMutex // guards closed against wg.Add racing Close
	closed bool
}

// shipperConfig carries the settings a Tally hands to its Shipper.
type shipperConfig struct {
	source      string
	logger      zerolog.Logger
	observer    Observer
	maxInFlight int64
}

func newShipper(cfg shipperConfig, sink LogPusher) *Shipper {
	if cfg.maxInFlight <= 0 {
		cfg.maxInFlight = defaultMaxInFlight
	}
	if cfg.observer == nil {
		cfg.observer = nopObserver{}
	}
	return &Shipper{
		source:   cfg.source,
		sink:     sink,
		logger:   cfg.logger,
		observer: cfg.observer,
		now:      time.Now,
		inFlight: semaphore.NewWeighted(cfg.maxInFlight),
	}
}

// Ship dispatches rec in the background. Records are dropped with a warning when the
// shipper is closed or too many pushes are already in flight. Values carried by ctx are
// kept but its cancellation is not, so a record outlives the request that produced it.
func (s *Shipper) Ship(ctx context.Context, rec LogRecord) {
	if rec.Source == "" {
		rec.Source = s.source
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.inFlight.TryAcquire(1) {
		s.logger.Warn().Str("label", string(rec.Label)).Msg("dropping log record")
		s.observer.ObserveEvent(EventLogDropped, map[string]any{"label": string(rec.Label)})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Release(1)
		s.sink.PushLog(context.WithoutCancel(ctx), rec)
	}()
}

// LogQuery ships a Database record holding the query text. Query arguments are accepted
// so callers can pass them through, but they are not recorded.
func (s *Shipper) LogQuery(ctx context.Context, query string, _ ...any) {
	// TODO: record query arguments once a redaction policy for them exists.
	s.Ship(ctx, LogRecord{
		Label:   LabelDatabase,
		Level:   LevelInfo,
		Payload: query,
	})
}

// LogFactoryRequest ships a Factory record holding the serialized order info.
func (s *Shipper) LogFactoryRequest(ctx context.Context, orderInfo any) {
	payload, ok := orderInfo.(string)
	if !ok {
		encoded, err := sonic.MarshalString(orderInfo)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to encode factory request")
			return
		}
		payload = encoded
	}
	s.Ship(ctx, LogRecord{
		Label:   LabelFactory,
		Level:   LevelInfo,
		Payload: payload,
	})
}

// exceptionPayload is the payload of an Unhandled Errors record.
type exceptionPayload struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// LogException ships an Unhandled Errors record for err raised while serving r.
func (s *Shipper) LogException(err error, r *http.Request) {
	payload, encErr := sonic.MarshalString(exceptionPayload{
		Message:    err.Error(),
		StatusCode: statusCodeOf(err),
	})
	if encErr != nil {
		s.logger.Error().Err(encErr).Msg("failed to encode exception")
		return
	}
	s.Ship(r.Context(), LogRecord{
		Label:      LabelUnhandledErrors,
		Level:      LevelError,
		Payload:    payload,
		Attributes: requestAttributes(r),
	})
}

// ExceptionHandler returns an error handler that ships an Unhandled Errors record and
// then always hands the error to next. A nil next writes the error as the response.
func (s *Shipper) ExceptionHandler(next ErrorHandlerFunc) ErrorHandlerFunc {
	if next == nil {
		next = WriteError
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		s.LogException(err, r)
		next(w, r, err)
	}
}

// Close stops accepting records and waits for in-flight pushes to finish.
func (s *Shipper) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// WriteError writes err as a JSON response with the error's status code.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	body, encErr := sonic.Marshal(map[string]string{"message": err.Error()})
	if encErr != nil {
		http.Error(w, err.Error(), statusCodeOf(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCodeOf(err))
	_, _ = w.Write(body)
}

// statusCodeOf returns the status carried by err, or 500.
func statusCodeOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 100 && code <= 999 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// requestAttributes are the attributes attached to request-scoped records. requestId is
// present once Middleware has seen the request.
func requestAttributes(r *http.Request) map[string]string {
	attrs := map[string]string{
		"Method":   r.Method,
		"Endpoint": r.URL.RequestURI(),
		"ip":       clientIP(r),
	}
	if id := RequestIDFromContext(r.Context()); id != "" {
		attrs["requestId"] = id
	}
	return attrs
}

// clientIP prefers the first X-Forwarded-For hop over the connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
