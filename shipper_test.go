package tally

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShipper_LogQuery(t *testing.T) {
	pusher := &recordingPusher{}
	shipper := newTestShipper(pusher)
	ts := time.Unix(1700000000, 0)
	shipper.now = func() time.Time { return ts }

	shipper.LogQuery(context.Background(), "SELECT * FROM menu WHERE id=?", 7)
	require.NoError(t, shipper.Close())

	records := pusher.Records()
	require.Len(t, records, 1)
	assert.Equal(t, LogRecord{
		Source:    "test",
		Label:     LabelDatabase,
		Level:     LevelInfo,
		Timestamp: ts,
		Payload:   "SELECT * FROM menu WHERE id=?",
	}, records[0])
}

func TestShipper_LogFactoryRequest(t *testing.T) {
	pusher := &recordingPusher{}
	shipper := newTestShipper(pusher)

	order := Order{ID: "42", Items: []OrderItem{{MenuID: 1, Description: "Veggie", Price: 0.05}}}
	shipper.LogFactoryRequest(context.Background(), order)
	shipper.LogFactoryRequest(context.Background(), "raw order info")
	require.NoError(t, shipper.Close())

	records := pusher.Records()
	require.Len(t, records, 2)
	byPayload := map[string]LogRecord{}
	for _, r := range records {
		assert.Equal(t, LabelFactory, r.Label)
		assert.Equal(t, LevelInfo, r.Level)
		byPayload[r.Payload] = r
	}
	assert.Contains(t, byPayload, "raw order info")

	var decoded Order
	for payload := range byPayload {
		if payload != "raw order info" {
			require.NoError(t, sonic.UnmarshalString(payload, &decoded))
		}
	}
	assert.Equal(t, order, decoded)
}

func TestShipper_ExceptionHandler(t *testing.T) {
	t.Run("ships once and continues once", func(t *testing.T) {
		server := newCaptureServer(t, http.StatusOK)
		client, _, _ := newTestSinkClient(server.URL)
		shipper := newTestShipper(client)

		calls := 0
		var gotErr error
		handler := shipper.ExceptionHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			calls++
			gotErr = err
			w.WriteHeader(http.StatusTeapot)
		})

		req := httptest.NewRequest(http.MethodPost, "/api/order?x=1", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		rr := httptest.NewRecorder()
		boom := errors.New("boom")
		handler(rr, req, boom)
		require.NoError(t, shipper.Close())

		assert.Equal(t, 1, calls)
		assert.Same(t, boom, gotErr)
		assert.Equal(t, http.StatusTeapot, rr.Code)

		reqs := server.Requests()
		require.Len(t, reqs, 1)
		var envelope streamEnvelope
		require.NoError(t, sonic.UnmarshalString(reqs[0].Body, &envelope))
		require.Len(t, envelope.Streams, 1)
		assert.Equal(t, "Unhandled Errors", envelope.Streams[0].Stream.Label)
		assert.Equal(t, "error", envelope.Streams[0].Stream.Level)
		value := envelope.Streams[0].Values[0]
		require.Len(t, value, 3)
		assert.JSONEq(t, `{"message":"boom","statusCode":500}`, value[1].(string))
		assert.Equal(t, map[string]any{
			"Method":   "POST",
			"Endpoint": "/api/order?x=1",
			"ip":       "10.1.2.3",
		}, value[2])
	})

	t.Run("correlated with the request record", func(t *testing.T) {
		pusher := &recordingPusher{}
		shipper := newTestShipper(pusher)

		handle := shipper.ExceptionHandler(nil)
		handler := shipper.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(w, r, &HTTPError{Status: http.StatusBadRequest, Message: "invalid order"})
		}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/order", nil))
		require.NoError(t, shipper.Close())

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		records := pusher.Records()
		require.Len(t, records, 2)
		byLabel := map[Label]LogRecord{}
		for _, rec := range records {
			byLabel[rec.Label] = rec
		}
		requestID := byLabel[LabelHTTPRequests].Attributes["requestId"]
		require.NotEmpty(t, requestID)
		assert.Equal(t, requestID, byLabel[LabelUnhandledErrors].Attributes["requestId"])
	})

	t.Run("status from error", func(t *testing.T) {
		pusher := &recordingPusher{}
		shipper := newTestShipper(pusher)

		handler := shipper.ExceptionHandler(nil)
		rr := httptest.NewRecorder()
		err := fmt.Errorf("loading franchise: %w", &HTTPError{Status: http.StatusNotFound, Message: "unknown franchise"})
		handler(rr, httptest.NewRequest(http.MethodGet, "/api/franchise/9", nil), err)
		require.NoError(t, shipper.Close())

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"message":"loading franchise: unknown franchise"}`, rr.Body.String())

		records := pusher.Records()
		require.Len(t, records, 1)
		assert.Equal(t, LevelError, records[0].Level)
		assert.JSONEq(t, `{"message":"loading franchise: unknown franchise","statusCode":404}`, records[0].Payload)
	})
}

func TestShipper_Drops(t *testing.T) {
	t.Run("after close", func(t *testing.T) {
		pusher := &recordingPusher{}
		observer := &recordingObserver{}
		shipper := newTestShipper(pusher, func(c *shipperConfig) { c.observer = observer })
		require.NoError(t, shipper.Close())

		shipper.LogQuery(context.Background(), "SELECT 1")
		assert.Empty(t, pusher.Records())
		assert.Equal(t, []string{EventLogDropped}, observer.Events())
	})

	t.Run("too many in flight", func(t *testing.T) {
		pusher := &recordingPusher{block: make(chan struct{})}
		observer := &recordingObserver{}
		shipper := newTestShipper(pusher, func(c *shipperConfig) {
			c.observer = observer
			c.maxInFlight = 1
		})

		shipper.LogQuery(context.Background(), "SELECT 1")
		shipper.LogQuery(context.Background(), "SELECT 2")
		close(pusher.block)
		require.NoError(t, shipper.Close())

		records := pusher.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "SELECT 1", records[0].Payload)
		assert.Equal(t, []string{EventLogDropped}, observer.Events())
	})
}

func TestShipper_ShipOutlivesRequestContext(t *testing.T) {
	pusher := &recordingPusher{}
	shipper := newTestShipper(pusher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shipper.LogQuery(ctx, "SELECT 1")
	require.NoError(t, shipper.Close())

	assert.Len(t, pusher.Records(), 1)
}

func TestClientIP(t *testing.T) {
	t.Run("forwarded for", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "1.1.1.1, 3.3.3.3")
		req.RemoteAddr = "2.2.2.2:1234"
		assert.Equal(t, "1.1.1.1", clientIP(req))
	})

	t.Run("remote addr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "2.2.2.2:1234"
		assert.Equal(t, "2.2.2.2", clientIP(req))
	})

	t.Run("remote addr without port", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "2.2.2.2"
		assert.Equal(t, "2.2.2.2", clientIP(req))
	})
}

func TestStatusCodeOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusCodeOf(errors.New("x")))
	assert.Equal(t, http.StatusBadRequest, statusCodeOf(&HTTPError{Status: http.StatusBadRequest}))
	assert.Equal(t, http.StatusInternalServerError, statusCodeOf(&HTTPError{Status: 42}))
}
