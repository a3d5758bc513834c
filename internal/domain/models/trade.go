package models

import (
	"fmt"
	"time"
)

// TradeStatus is the lifecycle state of a tracked trade.
type TradeStatus string

const (
	StatusOpen       TradeStatus = "open"
	StatusHitT1      TradeStatus = "hit_t1"
	StatusHitT2      TradeStatus = "hit_t2"
	StatusStopped    TradeStatus = "stopped"
	StatusClosedFlat TradeStatus = "closed_flat"
)

// TradeRecord tracks one trade opened from a ConfirmedSignal. Levels are
// immutable after creation; only Status, ClosedAt, ExitPrice and LastBarTime
// mutate, and only through bar-driven transitions.
type TradeRecord struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	SessionDate string      `json:"session_date"`
	Direction   Direction   `json:"direction"`
	Grade       Grade       `json:"grade"`
	EntryPrice  float64     `json:"entry_price"`
	StopPrice   float64     `json:"stop_price"`
	Target1     float64     `json:"target1"`
	Target2     *float64    `json:"target2,omitempty"`
	Risk        float64     `json:"risk"` // |entry - stop|
	Status      TradeStatus `json:"status"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	LastBarTime time.Time   `json:"last_bar_time"` // watermark for exactly-once transitions
}

// NewTradeID builds a deterministic-enough trade id from symbol and open time.
func NewTradeID(symbol string, openedAt time.Time) string {
	return fmt.Sprintf("%s-%s", symbol, openedAt.UTC().Format("20060102-150405"))
}

// Terminal reports whether no further transition may occur. hit_t1 is
// terminal only when the trade has no second target.
func (t *TradeRecord) Terminal() bool {
	switch t.Status {
	case StatusHitT2, StatusStopped, StatusClosedFlat:
		return true
	case StatusHitT1:
		return t.Target2 == nil
	}
	return false
}

// Levels returns the trade's price levels for alerting.
func (t *TradeRecord) Levels() PriceLevels {
	return PriceLevels{
		Entry:   t.EntryPrice,
		Stop:    t.StopPrice,
		Target1: t.Target1,
		Target2: t.Target2,
	}
}

// RealizedR returns the trade outcome in risk units, zero while open.
func (t *TradeRecord) RealizedR() float64 {
	if t.ExitPrice == nil || t.Risk <= 0 {
		return 0
	}
	return (*t.ExitPrice - t.EntryPrice) / t.Risk * t.Direction.Sign()
}
