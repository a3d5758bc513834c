package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
)

type countingMetrics struct {
	mu      sync.Mutex
	signals int
	errors  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: make(map[string]int)}
}

func (m *countingMetrics) RecordSignal(string, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals++
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *countingMetrics) RecordTradeTransition(string, string) {}
func (m *countingMetrics) RecordLastPrice(string, float64)      {}
func (m *countingMetrics) RecordTickDuration(float64)           {}
func (m *countingMetrics) RecordBarsIngested(string, int)       {}

func (m *countingMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type engineFixture struct {
	engine    *Engine
	lifecycle *Lifecycle
	store     *fakeStore
	sink      *fakeSink
	source    *fakeBarSource
	metrics   *countingMetrics
}

func newEngineFixture(t *testing.T, targetCfg TargetConfig) *engineFixture {
	t.Helper()
	store := newFakeStore()
	sink := &fakeSink{}
	source := &fakeBarSource{}
	m := newCountingMetrics()
	log := testLogger()

	det := NewDetector(testDetectorConfig())
	sel := NewSelector(det, []domrepo.Resolution{domrepo.Res1m}, 0)
	targets := NewTargetCalculator(targetCfg, &fakeExtremes{high: 130, low: 90}, log)
	lc := NewLifecycle(LifecycleConfig{}, store, sink, m, log)

	eng := NewEngine(EngineConfig{
		Symbols:    []string{"TST"},
		OpenHour:   9,
		OpenMin:    30,
		CloseHour:  16,
		CloseMin:   0,
		Location:   time.UTC,
		StaleAfter: 5 * time.Minute,
	}, sel, targets, lc, source, store, sink, m, log)

	return &engineFixture{engine: eng, lifecycle: lc, store: store, sink: sink, source: source, metrics: m}
}

func TestEngineEmitsSignalAndOpensTrade(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)

	fx.engine.Tick(context.Background(), testOpen.Add(20*time.Minute))

	sig := fx.engine.SignalFor("TST")
	if sig == nil || sig.EntryPrice != 109 || sig.Direction != models.DirUp {
		t.Fatalf("signal = %+v", sig)
	}

	confirmed := fx.sink.byType(models.AlertSignalConfirmed)
	if len(confirmed) != 1 {
		t.Fatalf("signal alerts = %d", len(confirmed))
	}
	if confirmed[0].TradeID == "" || confirmed[0].Levels.Target1 != 127 {
		t.Fatalf("signal alert = %+v", confirmed[0])
	}
	if len(fx.sink.byType(models.AlertTradeOpened)) != 1 {
		t.Fatalf("trade open alerts = %d", len(fx.sink.byType(models.AlertTradeOpened)))
	}

	fx.store.mu.Lock()
	sess := fx.store.sessions["TST|2024-10-10"]
	trades := len(fx.store.trades)
	fx.store.mu.Unlock()
	if sess == nil || !sess.Emitted {
		t.Fatalf("session not persisted as emitted: %+v", sess)
	}
	if trades != 1 {
		t.Fatalf("persisted trades = %d", trades)
	}

	// A second tick replays the same buffer and emits nothing new.
	fx.engine.Tick(context.Background(), testOpen.Add(21*time.Minute))
	if len(fx.sink.byType(models.AlertSignalConfirmed)) != 1 {
		t.Fatalf("signal re-emitted on replay")
	}
}

func TestEngineIdleBeforeSessionOpen(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)

	fx.engine.Tick(context.Background(), testOpen.Add(-time.Hour))

	if len(fx.engine.Sessions()) != 0 {
		t.Fatalf("sessions tracked before open: %v", fx.engine.Sessions())
	}
	if len(fx.sink.events) != 0 {
		t.Fatalf("alerts before open: %d", len(fx.sink.events))
	}
}

func TestEnginePersistFailureReplaysNextTick(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)

	fx.store.failSess = true
	fx.engine.Tick(context.Background(), testOpen.Add(20*time.Minute))

	if sig := fx.engine.SignalFor("TST"); sig != nil {
		t.Fatalf("signal survived rollback: %+v", sig)
	}
	if len(fx.sink.byType(models.AlertSignalConfirmed)) != 0 {
		t.Fatalf("alert emitted for unpersisted session")
	}
	if fx.metrics.errorCount("tick") == 0 {
		t.Fatalf("tick error not recorded")
	}

	// The store recovers and the buffered bars replay into the same signal.
	fx.store.failSess = false
	fx.engine.Tick(context.Background(), testOpen.Add(21*time.Minute))

	if sig := fx.engine.SignalFor("TST"); sig == nil || sig.EntryPrice != 109 {
		t.Fatalf("signal after recovery = %+v", sig)
	}
	if len(fx.sink.byType(models.AlertSignalConfirmed)) != 1 {
		t.Fatalf("signal alerts after recovery = %d", len(fx.sink.byType(models.AlertSignalConfirmed)))
	}
}

func TestEngineSignalWithoutTradeOnTargetFailure(t *testing.T) {
	// Risk of the confirmed signal is 9, below the configured minimum: the
	// signal still alerts, just without a trade attached.
	fx := newEngineFixture(t, TargetConfig{MinRisk: 50})
	fx.source.add(confirmationBars()...)

	fx.engine.Tick(context.Background(), testOpen.Add(20*time.Minute))

	confirmed := fx.sink.byType(models.AlertSignalConfirmed)
	if len(confirmed) != 1 || confirmed[0].TradeID != "" {
		t.Fatalf("signal alerts = %+v", confirmed)
	}
	if len(fx.sink.byType(models.AlertTradeOpened)) != 0 {
		t.Fatalf("trade opened despite target failure")
	}
	if fx.metrics.errorCount("target_build") != 1 {
		t.Fatalf("target_build errors = %d", fx.metrics.errorCount("target_build"))
	}
}

func TestEngineAdvancesTradeAndClosesSession(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)
	fx.engine.Tick(context.Background(), testOpen.Add(20*time.Minute))

	trades := fx.lifecycle.OpenTrades()
	if len(trades) != 1 {
		t.Fatalf("open trades = %d", len(trades))
	}

	// A later bar reaches the first target.
	fx.source.add(bar(20, 110, 127.5, 109, 126, 3000))
	fx.engine.Tick(context.Background(), testOpen.Add(25*time.Minute))
	if got := fx.lifecycle.Trades()[0]; got.Status != models.StatusHitT1 {
		t.Fatalf("status = %s", got.Status)
	}

	// A tick at the session close flattens what remains.
	fx.source.add(flatBar(120, 120, 500))
	fx.engine.Tick(context.Background(), testOpen.Add(6*time.Hour+30*time.Minute))
	if got := fx.lifecycle.Trades()[0]; got.Status != models.StatusClosedFlat {
		t.Fatalf("status at close = %s", got.Status)
	}
	if len(fx.lifecycle.OpenTrades()) != 0 {
		t.Fatalf("trades still open after session close")
	}
}

func TestEngineSessionRollover(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)
	fx.engine.Tick(context.Background(), testOpen.Add(20*time.Minute))

	if fx.engine.Sessions()["TST"] != "2024-10-10" {
		t.Fatalf("sessions = %v", fx.engine.Sessions())
	}

	// First tick of the next session date starts a fresh session with an
	// empty buffer and no signal.
	nextDay := testOpen.Add(24*time.Hour + 5*time.Minute)
	fx.engine.Tick(context.Background(), nextDay)

	if fx.engine.Sessions()["TST"] != "2024-10-11" {
		t.Fatalf("sessions after rollover = %v", fx.engine.Sessions())
	}
	if sig := fx.engine.SignalFor("TST"); sig != nil {
		t.Fatalf("signal carried across sessions: %+v", sig)
	}
}

func TestEngineFlagsDataGap(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(
		flatBar(0, 100, 1000),
		flatBar(1, 100, 1000),
		flatBar(5, 100, 1000), // 4-minute hole
	)

	fx.engine.Tick(context.Background(), testOpen.Add(6*time.Minute))

	if fx.metrics.errorCount("data_gap") != 1 {
		t.Fatalf("data_gap errors = %d", fx.metrics.errorCount("data_gap"))
	}
	// The bar past the hole is still ingested.
	fx.store.mu.Lock()
	sess := fx.store.sessions["TST|2024-10-10"]
	fx.store.mu.Unlock()
	if sess == nil {
		t.Fatalf("session not persisted")
	}
}

func TestEngineFlagsStaleStream(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(flatBar(0, 100, 1000), flatBar(1, 100, 1000))

	fx.engine.Tick(context.Background(), testOpen.Add(2*time.Minute))
	if fx.metrics.errorCount("stale_data") != 0 {
		t.Fatalf("stale flagged while fresh")
	}

	// No new bars ten minutes later.
	fx.engine.Tick(context.Background(), testOpen.Add(12*time.Minute))
	if fx.metrics.errorCount("stale_data") != 1 {
		t.Fatalf("stale_data errors = %d", fx.metrics.errorCount("stale_data"))
	}
}

func TestEngineSignalReadsDuringTicks(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)

	// API readers race the tick that confirms the signal; every copy they
	// observe must be complete.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if sig := fx.engine.SignalFor("TST"); sig != nil {
				if sig.EntryPrice != 109 || sig.Direction != models.DirUp {
					t.Errorf("partial signal observed: %+v", sig)
					return
				}
			}
			fx.engine.Sessions()
		}
	}()

	for i := 0; i < 10; i++ {
		fx.engine.Tick(context.Background(), testOpen.Add(time.Duration(20+i)*time.Minute))
	}
	close(done)
	wg.Wait()

	if sig := fx.engine.SignalFor("TST"); sig == nil || sig.EntryPrice != 109 {
		t.Fatalf("signal after ticks = %+v", sig)
	}
}

func TestEngineRestore(t *testing.T) {
	fx := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx.source.add(confirmationBars()...)
	fx.engine.Tick(context.Background(), testOpen.Add(20*time.Minute))

	// A second engine against the same store resumes without re-emitting.
	fx2 := newEngineFixture(t, TargetConfig{MinRisk: 0.01})
	fx2.store.sessions = fx.store.sessions
	fx2.store.trades = fx.store.trades
	fx2.source.add(confirmationBars()...)

	if err := fx2.engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if fx2.engine.Sessions()["TST"] != "2024-10-10" {
		t.Fatalf("sessions after restore = %v", fx2.engine.Sessions())
	}

	fx2.engine.Tick(context.Background(), testOpen.Add(25*time.Minute))
	if len(fx2.sink.byType(models.AlertSignalConfirmed)) != 0 {
		t.Fatalf("restored session re-emitted its signal")
	}
}
