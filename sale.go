package tally

import (
	"errors"
	"math"
	"time"

	"github.com/rs/xid"
)

// ErrInvalidSale is returned by NoteSale for sales with negative or non-finite quantities.
var ErrInvalidSale = errors.New("invalid sale")

// SaleRecord is one completed checkout attempt awaiting a flush.
type SaleRecord struct {
	ID           xid.ID
	ItemCount    int
	Success      bool
	Amount       float64
	HQLatency    time.Duration
	TotalLatency time.Duration

	// Counted is set once the record has been aggregated into a flush.
	Counted bool
}

func (r SaleRecord) validate() error {
	switch {
	case r.ItemCount < 0:
		return errors.New("negative item count")
	case math.IsNaN(r.Amount), math.IsInf(r.Amount, 0):
		return errors.New("non-finite amount")
	case r.Amount < 0:
		return errors.New("negative amount")
	case r.HQLatency < 0, r.TotalLatency < 0:
		return errors.New("negative latency")
	}
	return nil
}

// SaleSummary is the aggregate of the sales flushed in one cycle.
type SaleSummary struct {
	UnitsSold    int64
	TotalRevenue float64
	Failures     int64
	// HQDelay and ElapsedTime are the summed latencies in milliseconds divided by the
	// reporting period in milliseconds.
	HQDelay     float64
	ElapsedTime float64
}

// summarizeSales aggregates records and marks each of them counted.
func summarizeSales(records []SaleRecord, period time.Duration) SaleSummary {
	var (
		sum          SaleSummary
		hqTotal      time.Duration
		elapsedTotal time.Duration
	)
	for i := range records {
		rec := &records[i]
		sum.UnitsSold += int64(rec.ItemCount)
		sum.TotalRevenue += rec.Amount
		if !rec.Success {
			sum.Failures++
		}
		hqTotal += rec.HQLatency
		elapsedTotal += rec.TotalLatency
		rec.Counted = true
	}
	if periodMS := float64(period.Milliseconds()); periodMS > 0 {
		sum.HQDelay = float64(hqTotal.Milliseconds()) / periodMS
		sum.ElapsedTime = float64(elapsedTotal.Milliseconds()) / periodMS
	}
	return sum
}

// OrderItem is one line of an order.
type OrderItem struct {
	MenuID      int     `json:"menuId"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// Order is the part of an order needed to record a sale.
type Order struct {
	ID    string      `json:"id,omitempty"`
	Items []OrderItem `json:"items"`
}

// Total returns the sum of the item prices.
func (o Order) Total() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.Price
	}
	return total
}
