package models

// Tick is a single trade print from the live feed, folded into minute bars
// by the bar builder.
type Tick struct {
	Symbol    string
	Timestamp int64 // unix seconds
	Price     float64
	Volume    float64
}
