package usecase

import (
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
)

// Selector runs the detection chain independently on every configured
// resolution and resolves which confirmation, if any, becomes the session's
// single signal.
type Selector struct {
	det *Detector
	// resolutions in priority order, coarsest first; the first confirmed
	// chain in this order wins the tie-break.
	resolutions []domrepo.Resolution
	cutoff      time.Duration // entry cutoff as offset from session open, zero = none
}

func NewSelector(det *Detector, resolutions []domrepo.Resolution, cutoff time.Duration) *Selector {
	return &Selector{det: det, resolutions: resolutions, cutoff: cutoff}
}

// NewSession initializes the per-session state with one chain per resolution.
func (s *Selector) NewSession(symbol, sessionDate string, sessionOpen time.Time) *models.SessionState {
	var cutoff time.Time
	if s.cutoff > 0 {
		cutoff = sessionOpen.Add(s.cutoff)
	}
	st := &models.SessionState{
		Symbol:      symbol,
		SessionDate: sessionDate,
		SessionOpen: sessionOpen,
		Chains:      make(map[string]*models.ChainState, len(s.resolutions)),
	}
	for _, res := range s.resolutions {
		st.Chains[string(res)] = s.det.NewChain(symbol, sessionDate, res, sessionOpen, cutoff)
	}
	return st
}

// Feed folds the session's 1-minute bars into every resolution chain and
// returns a freshly confirmed signal, or nil. Chain watermarks make repeated
// feeds of the same bars no-ops. Every resolution keeps advancing even while
// a coarser one is pending, so a coarser expiry immediately yields to an
// already confirmed finer chain on the same pass.
func (s *Selector) Feed(st *models.SessionState, sessionBars []models.Bar) *models.ConfirmedSignal {
	for _, res := range s.resolutions {
		chain, ok := st.Chains[string(res)]
		if !ok {
			continue
		}
		for _, bar := range AggregateBars(sessionBars, res) {
			s.det.Advance(chain, bar)
		}
	}

	if st.Emitted {
		return nil
	}

	for _, res := range s.resolutions {
		chain, ok := st.Chains[string(res)]
		if !ok || chain.Phase != models.PhaseConfirmed {
			continue
		}
		sig := signalFromChain(chain)
		st.Emitted = true
		st.Signal = sig
		s.discardOthers(st, string(res))
		return sig
	}
	return nil
}

// discardOthers invalidates every still-pending chain once a signal is
// emitted: one ConfirmedSignal per (symbol, session_date).
func (s *Selector) discardOthers(st *models.SessionState, winner string) {
	for res, chain := range st.Chains {
		if res == winner || chain.Phase.Done() {
			continue
		}
		chain.Phase = models.PhaseInvalidated
	}
}

func signalFromChain(c *models.ChainState) *models.ConfirmedSignal {
	return &models.ConfirmedSignal{
		Symbol:      c.Symbol,
		SessionDate: c.SessionDate,
		Resolution:  c.Resolution,
		Direction:   c.Breakout.Direction,
		EntryPrice:  c.Retest.EntryPrice,
		RangeHigh:   c.Range.High,
		RangeLow:    c.Range.Low,
		ZoneLow:     c.Gap.ZoneLow,
		ZoneHigh:    c.Gap.ZoneHigh,
		Grade:       c.Retest.Grade,
		ConfirmedAt: c.Retest.TouchTime,
	}
}
