package models

import "time"

// Grade classifies the confirmation candle quality.
type Grade string

const (
	GradeAPlus  Grade = "A+"
	GradeA      Grade = "A"
	GradeAMinus Grade = "A-"
	GradeReject Grade = "reject"
)

// Upgrade moves the grade one notch up (A- -> A -> A+).
func (g Grade) Upgrade() Grade {
	switch g {
	case GradeA:
		return GradeAPlus
	case GradeAMinus:
		return GradeA
	}
	return g
}

// Downgrade moves the grade one notch down; A- downgrades to reject.
func (g Grade) Downgrade() Grade {
	switch g {
	case GradeAPlus:
		return GradeA
	case GradeA:
		return GradeAMinus
	case GradeAMinus:
		return GradeReject
	}
	return g
}

// ConfirmedSignal is the single per-(symbol, session) output of the
// multi-resolution selector.
type ConfirmedSignal struct {
	Symbol      string    `json:"symbol"`
	SessionDate string    `json:"session_date"`
	Resolution  string    `json:"resolution"`
	Direction   Direction `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	RangeHigh   float64   `json:"range_high"`
	RangeLow    float64   `json:"range_low"`
	ZoneLow     float64   `json:"zone_low"`
	ZoneHigh    float64   `json:"zone_high"`
	Grade       Grade     `json:"grade"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Alert event types.
const (
	AlertSignalConfirmed = "signal_confirmed"
	AlertTradeOpened     = "trade_opened"
	AlertTradeUpdate     = "trade_update"
)

// PriceLevels carries the sized levels of a trade on alert events.
type PriceLevels struct {
	Entry   float64  `json:"entry"`
	Stop    float64  `json:"stop"`
	Target1 float64  `json:"target1"`
	Target2 *float64 `json:"target2,omitempty"`
}

// AlertEvent is the structured payload delivered to the alert sink, one per
// confirmed signal and one per trade status transition.
type AlertEvent struct {
	Type        string      `json:"type"`
	Symbol      string      `json:"symbol"`
	SessionDate string      `json:"session_date"`
	Direction   Direction   `json:"direction"`
	Grade       Grade       `json:"grade,omitempty"`
	Resolution  string      `json:"resolution,omitempty"`
	TradeID     string      `json:"trade_id,omitempty"`
	Status      TradeStatus `json:"status,omitempty"`
	Levels      PriceLevels `json:"price_levels"`
	Timestamp   time.Time   `json:"timestamp"`
}
