package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/logger"
)

// LifecycleConfig tunes trade exit handling.
type LifecycleConfig struct {
	MaxHold time.Duration // after this, an adverse close flattens the trade; zero disables
}

// Lifecycle tracks open trades and applies bar-driven status transitions.
// Transitions are persisted before they are announced; a failed persist rolls
// the in-memory trade back so the next bar retries the same transition.
type Lifecycle struct {
	cfg     LifecycleConfig
	store   domrepo.StateStore
	alerts  domrepo.AlertSink
	metrics domrepo.Metrics
	log     *logger.Logger

	mu     sync.RWMutex
	trades map[string]*models.TradeRecord // by trade id
}

func NewLifecycle(cfg LifecycleConfig, store domrepo.StateStore, alerts domrepo.AlertSink, metrics domrepo.Metrics, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:     cfg,
		store:   store,
		alerts:  alerts,
		metrics: metrics,
		log:     log,
		trades:  make(map[string]*models.TradeRecord),
	}
}

// Restore reloads trades persisted by a previous run. Terminal trades are
// kept for the API but never advanced again.
func (lc *Lifecycle) Restore(trades []*models.TradeRecord) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, t := range trades {
		lc.trades[t.ID] = t
	}
}

// Open registers a freshly built trade, persists it, and announces it.
func (lc *Lifecycle) Open(ctx context.Context, trade *models.TradeRecord) error {
	if err := lc.store.UpsertTrade(ctx, trade); err != nil {
		return fmt.Errorf("persist trade %s: %w", trade.ID, err)
	}

	lc.mu.Lock()
	lc.trades[trade.ID] = trade
	lc.mu.Unlock()

	lc.metrics.RecordTradeTransition(trade.Symbol, string(trade.Status))
	lc.announce(ctx, trade, models.AlertTradeOpened)
	return nil
}

// OnBar advances every non-terminal trade on the symbol by one closed bar.
// The stop is evaluated before either target, so a bar spanning both levels
// resolves as a stop. Bars at or behind a trade's watermark are no-ops. The
// lock is held for the whole pass so API snapshots never observe a trade
// mid-mutation.
func (lc *Lifecycle) OnBar(ctx context.Context, bar models.Bar) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, trade := range lc.trades {
		if trade.Symbol != bar.Symbol || trade.Terminal() {
			continue
		}
		if !bar.OpenTime.After(trade.LastBarTime) {
			continue
		}
		if err := lc.advance(ctx, trade, bar); err != nil {
			lc.log.Error("trade transition not persisted, will retry",
				logger.String("trade_id", trade.ID),
				logger.Error(err))
			lc.metrics.RecordError("trade_persist")
		}
	}
}

// CloseSession flattens every non-terminal trade on the symbol at the given
// price, used when the trading session ends.
func (lc *Lifecycle) CloseSession(ctx context.Context, symbol string, price float64, at time.Time) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, trade := range lc.trades {
		if trade.Symbol != symbol || trade.Terminal() {
			continue
		}
		if err := lc.transition(ctx, trade, models.StatusClosedFlat, price, at); err != nil {
			lc.log.Error("session close not persisted",
				logger.String("trade_id", trade.ID),
				logger.Error(err))
			lc.metrics.RecordError("trade_persist")
		}
	}
}

// Trades returns a snapshot of every tracked trade.
func (lc *Lifecycle) Trades() []*models.TradeRecord {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	out := make([]*models.TradeRecord, 0, len(lc.trades))
	for _, t := range lc.trades {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// OpenTrades returns a snapshot of trades that may still transition.
func (lc *Lifecycle) OpenTrades() []*models.TradeRecord {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	out := make([]*models.TradeRecord, 0, len(lc.trades))
	for _, t := range lc.trades {
		if t.Terminal() {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// advance runs with lc.mu held.
func (lc *Lifecycle) advance(ctx context.Context, t *models.TradeRecord, bar models.Bar) error {
	sign := t.Direction.Sign()

	stopHit := bar.Low <= t.StopPrice
	if t.Direction == models.DirDown {
		stopHit = bar.High >= t.StopPrice
	}
	if stopHit {
		return lc.transition(ctx, t, models.StatusStopped, t.StopPrice, bar.OpenTime)
	}

	reached := func(level float64) bool {
		if t.Direction == models.DirUp {
			return bar.High >= level
		}
		return bar.Low <= level
	}

	switch t.Status {
	case models.StatusOpen:
		if reached(t.Target1) {
			if err := lc.transition(ctx, t, models.StatusHitT1, t.Target1, bar.OpenTime); err != nil {
				return err
			}
			// The same bar may run through the second target as well.
			if t.Target2 != nil && reached(*t.Target2) {
				return lc.transition(ctx, t, models.StatusHitT2, *t.Target2, bar.OpenTime)
			}
			return nil
		}
	case models.StatusHitT1:
		if t.Target2 != nil && reached(*t.Target2) {
			return lc.transition(ctx, t, models.StatusHitT2, *t.Target2, bar.OpenTime)
		}
	}

	// The hold-timeout flatten applies only to trades that never reached a
	// level; after T1 the trade stays live for T2, the stop, or the session
	// force-close.
	if t.Status == models.StatusOpen && lc.cfg.MaxHold > 0 && bar.OpenTime.Sub(t.OpenedAt) >= lc.cfg.MaxHold {
		adverse := (bar.Close-t.EntryPrice)*sign <= 0
		if adverse {
			return lc.transition(ctx, t, models.StatusClosedFlat, bar.Close, bar.OpenTime)
		}
	}

	t.LastBarTime = bar.OpenTime
	return nil
}

// transition persists the new status first and only then announces it. On a
// persist failure the in-memory trade is restored, so the transition replays
// on the next bar instead of being lost. Runs with lc.mu held.
func (lc *Lifecycle) transition(ctx context.Context, t *models.TradeRecord, status models.TradeStatus, price float64, at time.Time) error {
	prev := *t

	t.Status = status
	t.LastBarTime = at
	if status == models.StatusStopped || status == models.StatusClosedFlat || status == models.StatusHitT2 ||
		(status == models.StatusHitT1 && t.Target2 == nil) {
		t.ClosedAt = &at
		t.ExitPrice = &price
	}

	if err := lc.store.UpsertTrade(ctx, t); err != nil {
		*t = prev
		return fmt.Errorf("persist %s -> %s: %w", prev.Status, status, err)
	}

	lc.metrics.RecordTradeTransition(t.Symbol, string(status))
	lc.log.Info("trade transition",
		logger.String("trade_id", t.ID),
		logger.String("status", string(status)),
		logger.Float64("price", price))
	lc.announce(ctx, t, models.AlertTradeUpdate)
	return nil
}

func (lc *Lifecycle) announce(ctx context.Context, t *models.TradeRecord, alertType string) {
	ev := &models.AlertEvent{
		Type:        alertType,
		Symbol:      t.Symbol,
		SessionDate: t.SessionDate,
		Direction:   t.Direction,
		Grade:       t.Grade,
		TradeID:     t.ID,
		Status:      t.Status,
		Levels:      t.Levels(),
		Timestamp:   time.Now().UTC(),
	}
	if err := lc.alerts.Publish(ctx, ev); err != nil {
		lc.log.Error("alert publish failed",
			logger.String("trade_id", t.ID),
			logger.Error(err))
		lc.metrics.RecordError("alert_publish")
	}
}
