package main

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/httplog"
	"github.com/rs/xid"

	"github.com/jkbrsn/tally"
)

// api holds the demo route handlers.
type api struct {
	tally *tally.Tally
	db    *tally.LoggedDB // nil when running without a database
	fail  tally.ErrorHandlerFunc

	// fulfill hands a stored order to the pizza factory. The demo factory always succeeds.
	fulfill func(ctx context.Context, order tally.Order) error
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			a.fail(w, r, &tally.HTTPError{Status: http.StatusServiceUnavailable, Message: "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var order tally.Order
	if err := decode(r, &order); err != nil {
		a.fail(w, r, &tally.HTTPError{Status: http.StatusBadRequest, Message: "invalid order: " + err.Error()})
		return
	}
	if len(order.Items) == 0 {
		a.fail(w, r, &tally.HTTPError{Status: http.StatusBadRequest, Message: "order has no items"})
		return
	}

	if err := a.storeOrder(r.Context(), &order); err != nil {
		a.fail(w, r, err)
		return
	}
	a.tally.Shipper().LogFactoryRequest(r.Context(), order)

	hqStart := time.Now()
	fulfill := a.fulfill
	if fulfill == nil {
		fulfill = func(context.Context, tally.Order) error { return nil }
	}
	err := fulfill(r.Context(), order)
	if mErr := a.tally.MeasureOrder(err == nil, order, start, hqStart, time.Now()); mErr != nil {
		entry := httplog.LogEntry(r.Context())
		entry.Warn().Err(mErr).Msg("sale not recorded")
	}
	if err != nil {
		a.fail(w, r, &tally.HTTPError{Status: http.StatusInternalServerError, Message: "failed to fulfill order at factory"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// storeOrder persists order and assigns its ID.
func (a *api) storeOrder(ctx context.Context, order *tally.Order) error {
	if a.db == nil {
		order.ID = xid.New().String()
		return nil
	}
	var id int64
	err := a.db.QueryRowContext(ctx,
		"INSERT INTO dinerOrder (total, items) VALUES ($1, $2) RETURNING id",
		order.Total(), len(order.Items),
	).Scan(&id)
	if err != nil {
		return err
	}
	order.ID = strconv.FormatInt(id, 10)
	return nil
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decode(r, &creds); err != nil {
		a.fail(w, r, &tally.HTTPError{Status: http.StatusBadRequest, Message: "invalid credentials"})
		return
	}
	passed := creds.Email != "" && creds.Password != ""
	a.tally.MeasureAuth(false, passed)
	if !passed {
		a.fail(w, r, &tally.HTTPError{Status: http.StatusUnauthorized, Message: "unknown user"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  map[string]string{"email": creds.Email},
		"token": xid.New().String(),
	})
}

func (a *api) logout(w http.ResponseWriter, _ *http.Request) {
	a.tally.MeasureAuth(true, false)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logout successful"})
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// migrate creates the tables the demo writes to.
func migrate(ctx context.Context, db *tally.LoggedDB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS dinerOrder (
	id SERIAL PRIMARY KEY,
	total NUMERIC NOT NULL,
	items INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	return err
}
