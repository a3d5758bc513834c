package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/cache"
	"OrbWatch/pkg/logger"
)

// TargetConfig sizes the levels derived from a confirmed signal.
type TargetConfig struct {
	StopBuffer    float64 // extra distance beyond the opposite range side, fraction
	MinRisk       float64 // minimum |entry - stop| in price units
	T1Multiple    float64 // first target in risk units
	T2MinMultiple float64 // prior-hour level must be at least this many R away
}

// TargetCalculator turns a ConfirmedSignal into a TradeRecord with stop,
// first target, and optional second target at the prior-hour extreme.
type TargetCalculator struct {
	cfg      TargetConfig
	extremes domrepo.PriorExtremes
	log      *logger.Logger
}

func NewTargetCalculator(cfg TargetConfig, extremes domrepo.PriorExtremes, log *logger.Logger) *TargetCalculator {
	if cfg.T1Multiple <= 0 {
		cfg.T1Multiple = 2.0
	}
	if cfg.T2MinMultiple <= 0 {
		cfg.T2MinMultiple = 2.0
	}
	return &TargetCalculator{cfg: cfg, extremes: extremes, log: log}
}

// Build computes levels for a confirmed signal. The stop sits at the opposite
// side of the opening range; the first target is a fixed multiple of risk. The
// second target is the prior completed hour's extreme, kept only when it lies
// at least T2MinMultiple risk units beyond entry. A failed extremes lookup
// drops the second target but never the trade.
func (tc *TargetCalculator) Build(ctx context.Context, sig *models.ConfirmedSignal) (*models.TradeRecord, error) {
	entry := sig.EntryPrice

	var stop float64
	if sig.Direction == models.DirUp {
		stop = sig.RangeLow * (1 - tc.cfg.StopBuffer)
	} else {
		stop = sig.RangeHigh * (1 + tc.cfg.StopBuffer)
	}

	risk := (entry - stop) * sig.Direction.Sign()
	if risk <= 0 {
		return nil, fmt.Errorf("entry %.4f not beyond stop %.4f for %s %s", entry, stop, sig.Symbol, sig.Direction)
	}
	if risk < tc.cfg.MinRisk {
		return nil, fmt.Errorf("risk %.4f below minimum %.4f for %s", risk, tc.cfg.MinRisk, sig.Symbol)
	}

	t1 := entry + tc.cfg.T1Multiple*risk*sig.Direction.Sign()

	trade := &models.TradeRecord{
		ID:          models.NewTradeID(sig.Symbol, sig.ConfirmedAt),
		Symbol:      sig.Symbol,
		SessionDate: sig.SessionDate,
		Direction:   sig.Direction,
		Grade:       sig.Grade,
		EntryPrice:  entry,
		StopPrice:   stop,
		Target1:     t1,
		Risk:        risk,
		Status:      models.StatusOpen,
		OpenedAt:    sig.ConfirmedAt,
		LastBarTime: sig.ConfirmedAt,
	}
	trade.Target2 = tc.secondTarget(ctx, sig, risk)
	return trade, nil
}

func (tc *TargetCalculator) secondTarget(ctx context.Context, sig *models.ConfirmedSignal, risk float64) *float64 {
	if tc.extremes == nil {
		return nil
	}
	high, low, err := tc.extremes.PriorHourHighLow(ctx, sig.Symbol, sig.ConfirmedAt)
	if err != nil {
		if tc.log != nil {
			tc.log.Warn("prior hour lookup failed, trade gets no second target",
				logger.String("symbol", sig.Symbol),
				logger.Error(err))
		}
		return nil
	}

	var level float64
	if sig.Direction == models.DirUp {
		level = high
	} else {
		level = low
	}
	if level <= 0 {
		return nil
	}

	dist := (level - sig.EntryPrice) * sig.Direction.Sign()
	if dist < tc.cfg.T2MinMultiple*risk {
		return nil
	}
	return &level
}

// cachedExtremes memoizes prior-hour lookups per (symbol, hour) so repeated
// signals inside one hour hit the store once.
type cachedExtremes struct {
	inner domrepo.PriorExtremes
	cache cache.Service
	ttl   time.Duration
}

type extremesEntry struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// NewCachedExtremes wraps a PriorExtremes with cache-backed memoization.
func NewCachedExtremes(inner domrepo.PriorExtremes, c cache.Service, ttl time.Duration) domrepo.PriorExtremes {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &cachedExtremes{inner: inner, cache: c, ttl: ttl}
}

func (c *cachedExtremes) PriorHourHighLow(ctx context.Context, symbol string, asOf time.Time) (float64, float64, error) {
	key := cache.GenerateKeyWithParams("prior_hour", symbol, asOf.UTC().Truncate(time.Hour).Format("2006-01-02T15"))

	var raw string
	if err := c.cache.Get(ctx, key, &raw); err == nil {
		var e extremesEntry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			return e.High, e.Low, nil
		}
	}

	high, low, err := c.inner.PriorHourHighLow(ctx, symbol, asOf)
	if err != nil {
		return 0, 0, err
	}
	if data, err := json.Marshal(extremesEntry{High: high, Low: low}); err == nil {
		_ = c.cache.Set(ctx, key, string(data), c.ttl)
	}
	return high, low, nil
}
