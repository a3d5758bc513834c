package models

import "time"

// Direction of a breakout chain.
type Direction string

const (
	DirUp   Direction = "up"
	DirDown Direction = "down"
)

// Opposite returns the inverse direction.
func (d Direction) Opposite() Direction {
	if d == DirUp {
		return DirDown
	}
	return DirUp
}

// Sign returns +1 for up, -1 for down.
func (d Direction) Sign() float64 {
	if d == DirUp {
		return 1
	}
	return -1
}

// ChainPhase enumerates the detection state machine phases.
type ChainPhase string

const (
	PhaseAwaitingRange    ChainPhase = "awaiting_range"
	PhaseAwaitingBreakout ChainPhase = "awaiting_breakout"
	PhaseAwaitingGap      ChainPhase = "awaiting_gap"
	PhaseAwaitingRetest   ChainPhase = "awaiting_retest"
	PhaseConfirmed        ChainPhase = "confirmed"
	PhaseExpired          ChainPhase = "expired"
	PhaseInvalidated      ChainPhase = "invalidated"
)

// Done reports whether the phase is terminal for the session.
func (p ChainPhase) Done() bool {
	return p == PhaseConfirmed || p == PhaseExpired || p == PhaseInvalidated
}

// OpeningRange is the high/low of the first fixed window of a session,
// immutable once the window closes.
type OpeningRange struct {
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Bars        int       `json:"bars"`
}

// BreakoutEvent records a close beyond the opening range.
type BreakoutEvent struct {
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"` // close of the breakout bar
	BarTime   time.Time `json:"bar_time"`
	VolRatio  float64   `json:"vol_ratio"` // breakout volume vs trailing average
}

// FairValueGap is a 3-bar displacement zone formed after a breakout in the
// breakout's direction.
type FairValueGap struct {
	Direction Direction `json:"direction"`
	ZoneLow   float64   `json:"zone_low"`
	ZoneHigh  float64   `json:"zone_high"`
	FormedAt  time.Time `json:"formed_at"`
}

// Mid returns the zone midpoint.
func (g FairValueGap) Mid() float64 { return (g.ZoneLow + g.ZoneHigh) / 2 }

// RetestEvent records price returning to the gap zone and closing back in the
// breakout direction. Confirmed retests carry the entry price and grade.
type RetestEvent struct {
	TouchTime  time.Time `json:"touch_time"`
	EntryPrice float64   `json:"entry_price"`
	Grade      Grade     `json:"grade"`
	Confirmed  bool      `json:"confirmed"`
}

// ChainState is the full detection state for one (symbol, session, resolution)
// chain. Transitions are pure functions of (phase, bar); Watermark enforces
// exactly-once advancement when bars are replayed.
type ChainState struct {
	Symbol      string     `json:"symbol"`
	SessionDate string     `json:"session_date"` // YYYY-MM-DD in session TZ
	Resolution  string     `json:"resolution"`
	Phase       ChainPhase `json:"phase"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Cutoff      time.Time `json:"cutoff,omitempty"` // no confirmations at/after this time

	Range    *OpeningRange  `json:"range,omitempty"`
	Breakout *BreakoutEvent `json:"breakout,omitempty"`
	Gap      *FairValueGap  `json:"gap,omitempty"`
	Retest   *RetestEvent   `json:"retest,omitempty"`

	// Rolling inputs carried between ticks.
	Watermark    time.Time `json:"watermark"`
	BarsAfterBrk int       `json:"bars_after_brk"`
	BarsAfterGap int       `json:"bars_after_gap"`
	CumPV        float64   `json:"cum_pv"`  // session cumulative price*volume (VWAP)
	CumVol       float64   `json:"cum_vol"` // session cumulative volume
	RecentVols   []float64 `json:"recent_vols,omitempty"`
	Prev1        *Bar      `json:"prev1,omitempty"`
	Prev2        *Bar      `json:"prev2,omitempty"`
}

// VWAP returns the session volume-weighted average price seen so far.
func (c *ChainState) VWAP() float64 {
	if c.CumVol <= 0 {
		return 0
	}
	return c.CumPV / c.CumVol
}

// SessionState bundles all chains of one (symbol, session_date) plus the
// session-level outcome. It is the persistence unit for detector state.
type SessionState struct {
	Symbol      string                 `json:"symbol"`
	SessionDate string                 `json:"session_date"`
	SessionOpen time.Time              `json:"session_open"`
	Emitted     bool                   `json:"emitted"`
	Signal      *ConfirmedSignal       `json:"signal,omitempty"`
	Chains      map[string]*ChainState `json:"chains"`
	Watermark   time.Time              `json:"watermark"` // open_time of the newest 1m bar seen
}

// Open reports whether any chain can still confirm this session.
func (s *SessionState) Open() bool {
	if s.Emitted {
		return false
	}
	for _, c := range s.Chains {
		if !c.Phase.Done() {
			return true
		}
	}
	return false
}
