package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"
)

type requestIDKey struct{}

// RequestIDFromContext returns the ID Middleware assigned to the request, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID returns r with a request ID in its context, keeping one set by an
// outer Middleware.
func withRequestID(r *http.Request) *http.Request {
	if RequestIDFromContext(r.Context()) != "" {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), requestIDKey{}, xid.New().String()))
}

// maxCapturedBody caps how much of a request or response body is copied into a record.
const maxCapturedBody = 64 << 10

// responseRecorder wraps an http.ResponseWriter, writing through unchanged while keeping
// the status and a bounded copy of the body.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	rr.wroteHeader = true
	if room := maxCapturedBody - rr.body.Len(); room > 0 {
		rr.body.Write(p[:min(room, len(p))])
	}
	return rr.ResponseWriter.Write(p)
}

// Flush forwards to the wrapped writer when it supports flushing.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the wrapped writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// readBody returns up to maxCapturedBody bytes of the request body and restores the body
// so the next handler still reads all of it.
func readBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil {
		return nil
	}
	return head
}

// exchange is the payload of an HTTP Requests record.
type exchange struct {
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

// bodyJSON returns the redacted body as JSON: unchanged when it is already JSON,
// otherwise as a JSON string.
func bodyJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	redacted := Redact(body)
	if json.Valid([]byte(redacted)) {
		return json.RawMessage(redacted)
	}
	return json.RawMessage(strconv.Quote(redacted))
}

// Middleware ships an HTTP Requests record for every request. The response writer is
// wrapped so the status and body are captured as they are written; the record is shipped
// after the handler returns and never delays or alters the response. Every record shipped while serving the request carries the same requestId attribute.
func (s *Shipper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withRequestID(r)
		_, hasAuth := r.Header["Authorization"]
		reqBody := readBody(r)
		rec := newResponseRecorder(w)

		next.ServeHTTP(rec, r)

		payload, err := sonic.MarshalString(exchange{
			Request:  bodyJSON(reqBody),
			Response: bodyJSON(rec.body.Bytes()),
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to encode http exchange")
			return
		}
		attrs := requestAttributes(r)
		attrs["status"] = strconv.Itoa(rec.status)
		attrs["authorized"] = strconv.FormatBool(hasAuth)
		if route := routePattern(r); route != "" {
			attrs["route"] = route
		}
		s.Ship(r.Context(), LogRecord{
			Label:      LabelHTTPRequests,
			Level:      LevelForStatus(rec.status),
			Payload:    payload,
			Attributes: attrs,
		})
	})
}

// Recoverer turns a handler panic into an Unhandled Errors record and a 500 response.
func (s *Shipper) Recoverer(next http.Handler) http.Handler {
	handle := s.ExceptionHandler(WriteError)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			handle(w, r, &HTTPError{
				Status:  http.StatusInternalServerError,
				Message: fmt.Sprint(rvr),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// routePattern returns the chi route pattern matched for r, if any.
func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		return ctx.RoutePattern()
	}
	return ""
}
