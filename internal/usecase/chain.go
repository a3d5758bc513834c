package usecase

import (
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
)

// DetectorConfig tunes the breakout -> gap -> retest chain.
type DetectorConfig struct {
	OpeningWindow    time.Duration // opening range window from session open
	MinRangeBars     int           // bars required inside the window
	BreakoutPct      float64       // minimum close distance beyond the range, fraction
	GapMinPct        float64       // minimum gap size relative to reference price
	GapExpiryBars    int           // bars after breakout before the chain expires gapless
	RetestExpiryBars int           // bars after gap before the chain expires unconfirmed
	VolLookback      int           // trailing bars for the breakout volume baseline
	VolSpikeRatio    float64       // breakout volume / baseline for the volume alignment check
}

// Detector advances chain state bar by bar. All transitions are pure
// functions of (phase, bar); the chain watermark makes replays no-ops.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.VolLookback <= 0 {
		cfg.VolLookback = 20
	}
	return &Detector{cfg: cfg}
}

// NewChain initializes an awaiting_range chain for one resolution of a session.
func (d *Detector) NewChain(symbol, sessionDate string, res domrepo.Resolution, sessionOpen, cutoff time.Time) *models.ChainState {
	return &models.ChainState{
		Symbol:      symbol,
		SessionDate: sessionDate,
		Resolution:  string(res),
		Phase:       models.PhaseAwaitingRange,
		WindowStart: sessionOpen,
		WindowEnd:   sessionOpen.Add(d.cfg.OpeningWindow),
		Cutoff:      cutoff,
	}
}

// Advance folds one bar into the chain. Bars at or behind the watermark are
// ignored, so feeding the same sequence twice leaves the state unchanged.
func (d *Detector) Advance(c *models.ChainState, bar models.Bar) {
	if !bar.OpenTime.After(c.Watermark) {
		return
	}
	c.Watermark = bar.OpenTime

	if c.Phase.Done() || bar.OpenTime.Before(c.WindowStart) {
		return
	}

	c.CumPV += bar.Close * bar.Volume
	c.CumVol += bar.Volume

	switch c.Phase {
	case models.PhaseAwaitingRange:
		d.advanceRange(c, bar)
	case models.PhaseAwaitingBreakout:
		d.advanceBreakout(c, bar)
	case models.PhaseAwaitingGap:
		d.advanceGap(c, bar)
	case models.PhaseAwaitingRetest:
		d.advanceRetest(c, bar)
	}

	d.pushVolume(c, bar.Volume)
	c.Prev2, c.Prev1 = c.Prev1, &bar
}

func (d *Detector) advanceRange(c *models.ChainState, bar models.Bar) {
	if bar.OpenTime.Before(c.WindowEnd) {
		if c.Range == nil {
			c.Range = &models.OpeningRange{
				High:        bar.High,
				Low:         bar.Low,
				WindowStart: c.WindowStart,
				WindowEnd:   c.WindowEnd,
			}
		} else {
			if bar.High > c.Range.High {
				c.Range.High = bar.High
			}
			if bar.Low < c.Range.Low {
				c.Range.Low = bar.Low
			}
		}
		c.Range.Bars++
		return
	}

	// Window closed: finalize or mark the resolution unavailable.
	if c.Range == nil || c.Range.Bars < max(d.cfg.MinRangeBars, 1) {
		c.Phase = models.PhaseExpired
		return
	}
	c.Phase = models.PhaseAwaitingBreakout
	d.advanceBreakout(c, bar)
}

func (d *Detector) advanceBreakout(c *models.ChainState, bar models.Bar) {
	if d.pastCutoff(c, bar) {
		return
	}
	if dir, ok := d.breakoutDirection(c, bar); ok {
		d.startBreakout(c, bar, dir)
	}
}

func (d *Detector) advanceGap(c *models.ChainState, bar models.Bar) {
	if d.pastCutoff(c, bar) {
		return
	}
	if d.flipOrInvalidate(c, bar) {
		return
	}

	c.BarsAfterBrk++
	if gap := d.findGap(c, bar); gap != nil {
		c.Gap = gap
		c.Phase = models.PhaseAwaitingRetest
		c.BarsAfterGap = 0
		return
	}
	if c.BarsAfterBrk > d.cfg.GapExpiryBars {
		c.Phase = models.PhaseExpired
	}
}

func (d *Detector) advanceRetest(c *models.ChainState, bar models.Bar) {
	if d.pastCutoff(c, bar) {
		return
	}
	if d.flipOrInvalidate(c, bar) {
		return
	}

	c.BarsAfterGap++
	dir := c.Breakout.Direction
	gap := c.Gap

	beyondZone := bar.Close > gap.ZoneHigh
	if dir == models.DirDown {
		beyondZone = bar.Close < gap.ZoneLow
	}

	if bar.Touches(gap.ZoneLow, gap.ZoneHigh) && beyondZone {
		grade := GradeConfirmationBar(bar, dir)
		grade = AdjustGrade(grade,
			vwapAligned(c, bar),
			c.Breakout.VolRatio >= d.cfg.VolSpikeRatio && d.cfg.VolSpikeRatio > 0)
		// A rejected candle is not a confirmation; keep scanning later bars
		// within the retest window.
		if grade != models.GradeReject {
			c.Retest = &models.RetestEvent{
				TouchTime:  bar.OpenTime,
				EntryPrice: bar.Close,
				Grade:      grade,
				Confirmed:  true,
			}
			c.Phase = models.PhaseConfirmed
			return
		}
	}

	if c.BarsAfterGap > d.cfg.RetestExpiryBars {
		c.Phase = models.PhaseExpired
	}
}

// pastCutoff expires a still-pending chain once the session entry cutoff is
// reached.
func (d *Detector) pastCutoff(c *models.ChainState, bar models.Bar) bool {
	if c.Cutoff.IsZero() || bar.OpenTime.Before(c.Cutoff) {
		return false
	}
	c.Phase = models.PhaseExpired
	return true
}

// flipOrInvalidate handles a close back through the opposite side of the
// opening range: the pending chain fails, and if the close also clears the
// breakout threshold a fresh chain starts in the opposite direction.
func (d *Detector) flipOrInvalidate(c *models.ChainState, bar models.Bar) bool {
	opp := c.Breakout.Direction.Opposite()
	through := bar.Close < c.Range.Low
	if opp == models.DirUp {
		through = bar.Close > c.Range.High
	}
	if !through {
		return false
	}

	if dir, ok := d.breakoutDirection(c, bar); ok && dir == opp {
		d.startBreakout(c, bar, dir)
	} else {
		c.Phase = models.PhaseInvalidated
	}
	return true
}

func (d *Detector) breakoutDirection(c *models.ChainState, bar models.Bar) (models.Direction, bool) {
	switch {
	case bar.Close > c.Range.High*(1+d.cfg.BreakoutPct):
		return models.DirUp, true
	case bar.Close < c.Range.Low*(1-d.cfg.BreakoutPct):
		return models.DirDown, true
	}
	return "", false
}

func (d *Detector) startBreakout(c *models.ChainState, bar models.Bar, dir models.Direction) {
	c.Breakout = &models.BreakoutEvent{
		Direction: dir,
		Price:     bar.Close,
		BarTime:   bar.OpenTime,
		VolRatio:  d.volRatio(c, bar.Volume),
	}
	c.Gap = nil
	c.Retest = nil
	c.BarsAfterBrk = 0
	c.BarsAfterGap = 0
	c.Phase = models.PhaseAwaitingGap
}

// findGap checks the current 3-bar triplet for a displacement gap in the
// breakout direction. The oldest bar of the triplet must be strictly after
// the breakout bar.
func (d *Detector) findGap(c *models.ChainState, bar models.Bar) *models.FairValueGap {
	if c.Prev2 == nil || !c.Prev2.OpenTime.After(c.Breakout.BarTime) {
		return nil
	}

	switch c.Breakout.Direction {
	case models.DirUp:
		gap := bar.Low - c.Prev2.High
		if gap > 0 && c.Prev2.High > 0 && gap/c.Prev2.High >= d.cfg.GapMinPct {
			return &models.FairValueGap{
				Direction: models.DirUp,
				ZoneLow:   c.Prev2.High,
				ZoneHigh:  bar.Low,
				FormedAt:  bar.OpenTime,
			}
		}
	case models.DirDown:
		gap := c.Prev2.Low - bar.High
		if gap > 0 && c.Prev2.Low > 0 && gap/c.Prev2.Low >= d.cfg.GapMinPct {
			return &models.FairValueGap{
				Direction: models.DirDown,
				ZoneLow:   bar.High,
				ZoneHigh:  c.Prev2.Low,
				FormedAt:  bar.OpenTime,
			}
		}
	}
	return nil
}

func (d *Detector) pushVolume(c *models.ChainState, v float64) {
	c.RecentVols = append(c.RecentVols, v)
	if len(c.RecentVols) > d.cfg.VolLookback {
		c.RecentVols = c.RecentVols[len(c.RecentVols)-d.cfg.VolLookback:]
	}
}

// volRatio compares a bar's volume to the trailing baseline. Zero until the
// lookback window is full.
func (d *Detector) volRatio(c *models.ChainState, vol float64) float64 {
	if len(c.RecentVols) < d.cfg.VolLookback {
		return 0
	}
	var sum float64
	for _, v := range c.RecentVols {
		sum += v
	}
	avg := sum / float64(len(c.RecentVols))
	if avg <= 0 {
		return 0
	}
	return vol / avg
}

func vwapAligned(c *models.ChainState, bar models.Bar) bool {
	vwap := c.VWAP()
	if vwap <= 0 {
		return false
	}
	if c.Breakout.Direction == models.DirUp {
		return bar.Close > vwap
	}
	return bar.Close < vwap
}
