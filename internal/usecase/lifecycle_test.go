package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"OrbWatch/internal/domain/models"
)

func ptr(v float64) *float64 { return &v }

// testTrade is a long at 109 with stop 100, targets 127 and 130, opened at
// the confirmation bar 14 minutes into the session.
func testTrade() *models.TradeRecord {
	opened := testOpen.Add(14 * time.Minute)
	return &models.TradeRecord{
		ID:          models.NewTradeID("TST", opened),
		Symbol:      "TST",
		SessionDate: "2024-10-10",
		Direction:   models.DirUp,
		Grade:       models.GradeA,
		EntryPrice:  109,
		StopPrice:   100,
		Target1:     127,
		Target2:     ptr(130),
		Risk:        9,
		Status:      models.StatusOpen,
		OpenedAt:    opened,
		LastBarTime: opened,
	}
}

func newTestLifecycle(store *fakeStore, sink *fakeSink, maxHold time.Duration) *Lifecycle {
	return NewLifecycle(LifecycleConfig{MaxHold: maxHold}, store, sink, fakeMetrics{}, testLogger())
}

func openTrade(t *testing.T, lc *Lifecycle, trade *models.TradeRecord) {
	t.Helper()
	if err := lc.Open(context.Background(), trade); err != nil {
		t.Fatalf("open: %v", err)
	}
}

func tradeByID(t *testing.T, lc *Lifecycle, id string) *models.TradeRecord {
	t.Helper()
	for _, tr := range lc.Trades() {
		if tr.ID == id {
			return tr
		}
	}
	t.Fatalf("trade %s not tracked", id)
	return nil
}

func TestLifecycleOpenPersistsAndAnnounces(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	if _, ok := store.trades[trade.ID]; !ok {
		t.Fatalf("trade not persisted")
	}
	opened := sink.byType(models.AlertTradeOpened)
	if len(opened) != 1 || opened[0].TradeID != trade.ID {
		t.Fatalf("opened alerts = %+v", opened)
	}
	if opened[0].Levels.Entry != 109 || opened[0].Levels.Stop != 100 {
		t.Fatalf("alert levels = %+v", opened[0].Levels)
	}
}

func TestLifecycleStopBeatsTargetOnSpanningBar(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	// One wild bar trades through both the stop and the first target.
	lc.OnBar(context.Background(), bar(15, 110, 128, 99, 120, 9000))

	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusStopped {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 100 {
		t.Fatalf("exit = %v", got.ExitPrice)
	}
	if got.ClosedAt == nil {
		t.Fatalf("closed at not set")
	}
}

func TestLifecycleTargetsInSequence(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	lc.OnBar(context.Background(), bar(15, 110, 127.5, 109, 126, 3000))
	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusHitT1 {
		t.Fatalf("status after t1 bar = %s", got.Status)
	}
	if got.Terminal() {
		t.Fatalf("hit_t1 terminal while a second target remains")
	}

	lc.OnBar(context.Background(), bar(16, 126, 130.5, 125, 129, 3000))
	got = tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusHitT2 {
		t.Fatalf("status after t2 bar = %s", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 130 {
		t.Fatalf("exit = %v", got.ExitPrice)
	}

	updates := sink.byType(models.AlertTradeUpdate)
	if len(updates) != 2 {
		t.Fatalf("update alerts = %d", len(updates))
	}
}

func TestLifecycleBothTargetsOnOneBar(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	lc.OnBar(context.Background(), bar(15, 110, 131, 109, 130.5, 9000))

	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusHitT2 {
		t.Fatalf("status = %s", got.Status)
	}
	// Both transitions happen, in order, on the single bar.
	updates := sink.byType(models.AlertTradeUpdate)
	if len(updates) != 2 {
		t.Fatalf("update alerts = %d", len(updates))
	}
	if updates[0].Status != models.StatusHitT1 || updates[1].Status != models.StatusHitT2 {
		t.Fatalf("update order = %s, %s", updates[0].Status, updates[1].Status)
	}
}

func TestLifecycleStopAfterFirstTarget(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	lc.OnBar(context.Background(), bar(15, 110, 127.5, 109, 126, 3000))
	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusHitT1 {
		t.Fatalf("status = %s", got.Status)
	}

	// A bar whose low touches the stop exactly scores as stopped, even while
	// the second target is still pending.
	lc.OnBar(context.Background(), bar(16, 126, 126.5, 100, 101, 4000))
	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusStopped {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 100 {
		t.Fatalf("exit = %v", got.ExitPrice)
	}
}

func TestLifecycleHitT1TerminalWithoutSecondTarget(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	trade.Target2 = nil
	openTrade(t, lc, trade)

	lc.OnBar(context.Background(), bar(15, 110, 127.5, 109, 126, 3000))

	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusHitT1 || !got.Terminal() {
		t.Fatalf("status = %s terminal = %v", got.Status, got.Terminal())
	}
	if got.ExitPrice == nil || *got.ExitPrice != 127 {
		t.Fatalf("exit = %v", got.ExitPrice)
	}

	// Terminal trades ignore further bars.
	lc.OnBar(context.Background(), bar(16, 126, 131, 99, 130, 9000))
	if tradeByID(t, lc, trade.ID).Status != models.StatusHitT1 {
		t.Fatalf("terminal trade advanced")
	}
}

func TestLifecycleMaxHoldFlattensAdverseTrade(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 30*time.Minute)

	trade := testTrade()
	openTrade(t, lc, trade)

	// Still inside the hold window: nothing happens.
	lc.OnBar(context.Background(), bar(30, 108, 108.5, 107, 108, 1000))
	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusOpen {
		t.Fatalf("status inside hold window = %s", got.Status)
	}

	// Past the hold window with a close at or below entry: flatten.
	lc.OnBar(context.Background(), bar(45, 108, 108.5, 107, 108, 1000))
	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusClosedFlat {
		t.Fatalf("status past hold window = %s", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 108 {
		t.Fatalf("exit = %v", got.ExitPrice)
	}
}

func TestLifecycleMaxHoldLeavesTradeAfterFirstTarget(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 30*time.Minute)

	trade := testTrade()
	openTrade(t, lc, trade)

	lc.OnBar(context.Background(), bar(15, 110, 127.5, 109, 126, 3000))
	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusHitT1 {
		t.Fatalf("status = %s", got.Status)
	}

	// An adverse close past the hold window must not flatten a trade that
	// already hit its first target; it stays live for T2 or the stop.
	lc.OnBar(context.Background(), bar(45, 108, 108.5, 107, 108, 1000))
	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusHitT1 {
		t.Fatalf("status past hold window = %s", got.Status)
	}

	lc.OnBar(context.Background(), bar(46, 108, 130.5, 107, 130, 4000))
	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusHitT2 {
		t.Fatalf("status after second target = %s", got.Status)
	}
}

func TestLifecycleMaxHoldKeepsFavorableTrade(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 30*time.Minute)

	trade := testTrade()
	openTrade(t, lc, trade)

	lc.OnBar(context.Background(), bar(45, 110, 112, 109.5, 111, 1000))
	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusOpen {
		t.Fatalf("favorable trade flattened: %s", got.Status)
	}
}

func TestLifecycleWatermarkSkipsReplayedBars(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	b := bar(15, 110, 127.5, 109, 126, 3000)
	lc.OnBar(context.Background(), b)
	lc.OnBar(context.Background(), b) // replay

	if updates := sink.byType(models.AlertTradeUpdate); len(updates) != 1 {
		t.Fatalf("update alerts = %d", len(updates))
	}
}

func TestLifecyclePersistFailureRollsBackAndRetries(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	store.failTrd = true
	lc.OnBar(context.Background(), bar(15, 110, 127.5, 109, 126, 3000))

	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusOpen {
		t.Fatalf("status after failed persist = %s", got.Status)
	}
	if len(sink.byType(models.AlertTradeUpdate)) != 0 {
		t.Fatalf("alert sent for unpersisted transition")
	}

	// The watermark was not advanced, so the next bar replays the transition.
	store.failTrd = false
	lc.OnBar(context.Background(), bar(16, 126, 127.5, 125, 127, 1000))
	got = tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusHitT1 {
		t.Fatalf("status after retry = %s", got.Status)
	}
}

func TestLifecycleCloseSessionFlattens(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	at := testOpen.Add(6*time.Hour + 30*time.Minute)
	lc.CloseSession(context.Background(), "TST", 111.5, at)

	got := tradeByID(t, lc, trade.ID)
	if got.Status != models.StatusClosedFlat {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 111.5 {
		t.Fatalf("exit = %v", got.ExitPrice)
	}
	if len(lc.OpenTrades()) != 0 {
		t.Fatalf("open trades remain after session close")
	}
}

func TestLifecycleSnapshotsDuringBars(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	openTrade(t, lc, trade)

	// Snapshot readers race the bar-driven transitions; every observed copy
	// must be internally consistent.
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
			for _, tr := range lc.Trades() {
				if tr.Terminal() && tr.ExitPrice == nil {
					t.Error("terminal trade snapshot without exit price")
					return
				}
			}
			lc.OpenTrades()
		}
	}()

	for i := 15; i < 60; i++ {
		lc.OnBar(context.Background(), bar(i, 110, 112, 109, 111, 1000))
	}
	lc.OnBar(context.Background(), bar(60, 110, 131, 109, 130.5, 9000))
	close(done)
	wg.Wait()

	if got := tradeByID(t, lc, trade.ID); got.Status != models.StatusHitT2 {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestLifecycleRestore(t *testing.T) {
	store, sink := newFakeStore(), &fakeSink{}
	lc := newTestLifecycle(store, sink, 0)

	trade := testTrade()
	lc.Restore([]*models.TradeRecord{trade})

	if len(lc.OpenTrades()) != 1 {
		t.Fatalf("restored trade not open")
	}
	lc.OnBar(context.Background(), bar(15, 110, 127.5, 109, 126, 3000))
	if tradeByID(t, lc, trade.ID).Status != models.StatusHitT1 {
		t.Fatalf("restored trade did not advance")
	}
}
