package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/logger"
	"OrbWatch/pkg/util"
)

// EngineConfig describes the watched instruments and the trading session.
type EngineConfig struct {
	Symbols    []string
	OpenHour   int
	OpenMin    int
	CloseHour  int
	CloseMin   int
	Location   *time.Location
	StaleAfter time.Duration // no fresh bars for this long mid-session raises a stale warning
}

// Engine drives the whole pipeline on a fixed tick: pull new bars, advance
// every detection chain, open trades from confirmed signals, and advance open
// trades. Session state persists after every mutation and rolls back in
// memory when persistence fails, so the next tick replays the same bars.
type Engine struct {
	cfg       EngineConfig
	selector  *Selector
	targets   *TargetCalculator
	lifecycle *Lifecycle
	bars      domrepo.BarSource
	store     domrepo.StateStore
	alerts    domrepo.AlertSink
	metrics   domrepo.Metrics
	log       *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*models.SessionState
	buffers  map[string][]models.Bar // 1m session bars per symbol
	lastBar  map[string]time.Time
}

func NewEngine(
	cfg EngineConfig,
	selector *Selector,
	targets *TargetCalculator,
	lifecycle *Lifecycle,
	bars domrepo.BarSource,
	store domrepo.StateStore,
	alerts domrepo.AlertSink,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Engine{
		cfg:       cfg,
		selector:  selector,
		targets:   targets,
		lifecycle: lifecycle,
		bars:      bars,
		store:     store,
		alerts:    alerts,
		metrics:   metrics,
		log:       log,
		sessions:  make(map[string]*models.SessionState),
		buffers:   make(map[string][]models.Bar),
		lastBar:   make(map[string]time.Time),
	}
}

// Restore reloads persisted sessions and trades from a previous run. Bar
// buffers refill from session open on the next tick; chain watermarks make
// the replay a no-op up to the persisted position.
func (e *Engine) Restore(ctx context.Context) error {
	sessions, err := e.store.LoadOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	trades, err := e.store.LoadOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}

	e.mu.Lock()
	for _, s := range sessions {
		e.sessions[s.Symbol] = s
	}
	e.mu.Unlock()
	e.lifecycle.Restore(trades)

	e.log.Info("state restored",
		logger.Int("sessions", len(sessions)),
		logger.Int("trades", len(trades)))
	return nil
}

// Tick runs one full pass over every watched symbol.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	start := time.Now()
	for _, symbol := range e.cfg.Symbols {
		if err := e.processSymbol(ctx, symbol, now); err != nil {
			e.log.Error("symbol pass failed",
				logger.String("symbol", symbol),
				logger.Error(err))
			e.metrics.RecordError("tick")
		}
	}
	e.metrics.RecordTickDuration(time.Since(start).Seconds())
}

// SignalFor returns the emitted signal for a symbol's current session, nil
// when none has confirmed.
func (e *Engine) SignalFor(symbol string) *models.ConfirmedSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.sessions[symbol]
	if !ok || st.Signal == nil {
		return nil
	}
	cp := *st.Signal
	return &cp
}

// Sessions returns a shallow snapshot of the tracked sessions for health
// reporting.
func (e *Engine) Sessions() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.sessions))
	for sym, st := range e.sessions {
		out[sym] = st.SessionDate
	}
	return out
}

func (e *Engine) processSymbol(ctx context.Context, symbol string, now time.Time) error {
	sessionOpen := util.AtClock(now, e.cfg.OpenHour, e.cfg.OpenMin, e.cfg.Location)
	sessionClose := util.AtClock(now, e.cfg.CloseHour, e.cfg.CloseMin, e.cfg.Location)
	if now.Before(sessionOpen) {
		return nil
	}
	sessionDate := util.SessionDate(now, e.cfg.Location)

	st := e.sessionFor(symbol, sessionDate, sessionOpen)

	newBars, err := e.ingest(ctx, symbol, sessionOpen, now)
	if err != nil {
		return err
	}
	buffer := e.bufferFor(symbol)

	// Feed mutates the session state, so it runs under the lock that guards
	// the concurrent API reads (SignalFor, Sessions).
	e.mu.Lock()
	snapshot, err := json.Marshal(st)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("snapshot session: %w", err)
	}
	sig := e.selector.Feed(st, buffer)
	e.mu.Unlock()

	if err := e.store.UpsertSession(ctx, st); err != nil {
		// Roll back so the next tick replays the same bars against the
		// last persisted position.
		var restored models.SessionState
		if rbErr := json.Unmarshal(snapshot, &restored); rbErr != nil {
			e.log.Error("session rollback failed", logger.Error(rbErr))
		} else {
			e.mu.Lock()
			*st = restored
			e.mu.Unlock()
		}
		return fmt.Errorf("persist session: %w", err)
	}

	if sig != nil {
		e.emitSignal(ctx, sig)
	}

	for _, bar := range newBars {
		e.lifecycle.OnBar(ctx, bar)
	}
	if n := len(newBars); n > 0 {
		last := newBars[n-1]
		e.metrics.RecordLastPrice(symbol, last.Close)
	}

	if !now.Before(sessionClose) && len(buffer) > 0 {
		e.lifecycle.CloseSession(ctx, symbol, buffer[len(buffer)-1].Close, sessionClose)
	}
	return nil
}

// sessionFor returns the current session state, rolling over to a fresh one
// on the first tick of a new session date.
func (e *Engine) sessionFor(symbol, sessionDate string, sessionOpen time.Time) *models.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.sessions[symbol]
	if st == nil || st.SessionDate != sessionDate {
		st = e.selector.NewSession(symbol, sessionDate, sessionOpen)
		e.sessions[symbol] = st
		e.buffers[symbol] = nil
		e.lastBar[symbol] = time.Time{}
		e.log.Info("session started",
			logger.String("symbol", symbol),
			logger.String("session_date", sessionDate))
	}
	return st
}

// ingest pulls bars newer than the buffer's tail and appends them. Bars with
// out-of-order timestamps are dropped; a hole between consecutive bars is
// logged as a data gap but processing continues.
func (e *Engine) ingest(ctx context.Context, symbol string, sessionOpen, now time.Time) ([]models.Bar, error) {
	e.mu.RLock()
	since := e.lastBar[symbol]
	e.mu.RUnlock()
	if since.IsZero() {
		since = sessionOpen.Add(-time.Minute)
	}

	fetched, err := e.bars.GetBars(ctx, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("get bars for %s: %w", symbol, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var appended []models.Bar
	last := e.lastBar[symbol]
	for _, bar := range fetched {
		if !bar.OpenTime.After(last) {
			continue
		}
		if !last.IsZero() && bar.OpenTime.Sub(last) > 2*time.Minute {
			e.log.Warn("bar stream gap",
				logger.String("symbol", symbol),
				logger.Error(fmt.Errorf("%w: %s to %s", models.ErrDataGap, last.Format(time.RFC3339), bar.OpenTime.Format(time.RFC3339))))
			e.metrics.RecordError("data_gap")
		}
		e.buffers[symbol] = append(e.buffers[symbol], bar)
		last = bar.OpenTime
		appended = append(appended, bar)
	}
	e.lastBar[symbol] = last

	if len(appended) == 0 && !last.IsZero() && now.Sub(last) > e.cfg.StaleAfter {
		e.log.Warn("bar stream stale",
			logger.String("symbol", symbol),
			logger.Error(fmt.Errorf("%w: last bar %s", models.ErrStaleData, last.Format(time.RFC3339))))
		e.metrics.RecordError("stale_data")
	}

	e.metrics.RecordBarsIngested(symbol, len(appended))
	return appended, nil
}

func (e *Engine) bufferFor(symbol string) []models.Bar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buffers[symbol]
}

// emitSignal announces a confirmed signal and opens its trade. The session
// state carrying the signal is already persisted by the caller.
func (e *Engine) emitSignal(ctx context.Context, sig *models.ConfirmedSignal) {
	e.metrics.RecordSignal(sig.Symbol, sig.Resolution, string(sig.Direction))
	e.log.Info("signal confirmed",
		logger.String("symbol", sig.Symbol),
		logger.String("resolution", sig.Resolution),
		logger.String("direction", string(sig.Direction)),
		logger.String("grade", string(sig.Grade)))

	trade, err := e.targets.Build(ctx, sig)
	if err != nil {
		e.log.Warn("signal produced no trade",
			logger.String("symbol", sig.Symbol),
			logger.Error(err))
		e.metrics.RecordError("target_build")
		e.publishSignalAlert(ctx, sig, nil)
		return
	}

	e.publishSignalAlert(ctx, sig, trade)

	if err := e.lifecycle.Open(ctx, trade); err != nil {
		e.log.Error("trade open failed",
			logger.String("trade_id", trade.ID),
			logger.Error(err))
		e.metrics.RecordError("trade_persist")
	}
}

func (e *Engine) publishSignalAlert(ctx context.Context, sig *models.ConfirmedSignal, trade *models.TradeRecord) {
	ev := &models.AlertEvent{
		Type:        models.AlertSignalConfirmed,
		Symbol:      sig.Symbol,
		SessionDate: sig.SessionDate,
		Direction:   sig.Direction,
		Grade:       sig.Grade,
		Resolution:  sig.Resolution,
		Timestamp:   time.Now().UTC(),
	}
	if trade != nil {
		ev.TradeID = trade.ID
		ev.Levels = trade.Levels()
	}
	if err := e.alerts.Publish(ctx, ev); err != nil {
		e.log.Error("alert publish failed",
			logger.String("symbol", sig.Symbol),
			logger.Error(err))
		e.metrics.RecordError("alert_publish")
	}
}
