package models

import "time"

// Bar is one OHLCV record of a single resolution stream. Bars are immutable
// once produced and ordered by OpenTime within a stream.
type Bar struct {
	Symbol   string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Range returns high minus low.
func (b Bar) Range() float64 { return b.High - b.Low }

// Touches reports whether the bar's [low, high] range intersects [lo, hi].
func (b Bar) Touches(lo, hi float64) bool {
	return b.Low <= hi && b.High >= lo
}
