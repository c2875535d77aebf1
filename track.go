package tally

import (
	"net/http"
	"time"
)

// TrackRequests is middleware that counts every request by method.
func (t *Tally) TrackRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = t.store.NoteHTTP(r.Method)
		next.ServeHTTP(w, r)
	})
}

// MeasureAuth records a login attempt, or a logout when isLogout is set.
func (t *Tally) MeasureAuth(isLogout, passed bool) {
	if isLogout {
		t.store.RemoveUser()
		return
	}
	t.store.NoteAuth(passed)
}

// MeasureOrder records a sale for order. start is when the order request arrived,
// hqStart when the order was handed to headquarters and now when the response came back.
func (t *Tally) MeasureOrder(success bool, order Order, start, hqStart, now time.Time) error {
	return t.store.NoteSale(len(order.Items), success, order.Total(), now.Sub(hqStart), now.Sub(start))
}
