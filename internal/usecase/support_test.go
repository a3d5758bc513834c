package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OrbWatch/internal/domain/models"
	"OrbWatch/pkg/logger"
)

var testOpen = time.Date(2024, 10, 10, 9, 30, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		panic(err)
	}
	return l
}

// bar builds a 1-minute bar offset minutes after the session open.
func bar(minOffset int, o, h, l, c, v float64) models.Bar {
	return models.Bar{
		Symbol:   "TST",
		OpenTime: testOpen.Add(time.Duration(minOffset) * time.Minute),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Volume:   v,
	}
}

// flatBar builds a bar trading at a single price.
func flatBar(minOffset int, px, v float64) models.Bar {
	return bar(minOffset, px, px, px, px, v)
}

// rangeBars builds an opening range oscillating between lo and hi.
func rangeBars(n int, lo, hi float64) []models.Bar {
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, bar(i, lo+1, hi, lo, hi-1, 1000))
	}
	return bars
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.SessionState
	trades   map[string]*models.TradeRecord
	failSess bool
	failTrd  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*models.SessionState),
		trades:   make(map[string]*models.TradeRecord),
	}
}

func (f *fakeStore) UpsertSession(_ context.Context, s *models.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSess {
		return fmt.Errorf("session store down")
	}
	cp := *s
	f.sessions[s.Symbol+"|"+s.SessionDate] = &cp
	return nil
}

func (f *fakeStore) UpsertTrade(_ context.Context, t *models.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTrd {
		return fmt.Errorf("trade store down")
	}
	cp := *t
	f.trades[t.ID] = &cp
	return nil
}

func (f *fakeStore) LoadOpenSessions(context.Context) ([]*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.SessionState, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) LoadOpenTrades(context.Context) ([]*models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.TradeRecord, 0, len(f.trades))
	for _, t := range f.trades {
		if !t.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

type fakeSink struct {
	mu     sync.Mutex
	events []*models.AlertEvent
	fail   bool
}

func (f *fakeSink) Publish(_ context.Context, ev *models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return models.ErrDelivery
	}
	cp := *ev
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) byType(kind string) []*models.AlertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AlertEvent
	for _, ev := range f.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeMetrics struct{}

func (fakeMetrics) RecordSignal(string, string, string)  {}
func (fakeMetrics) RecordTradeTransition(string, string) {}
func (fakeMetrics) RecordError(string)                   {}
func (fakeMetrics) RecordLastPrice(string, float64)      {}
func (fakeMetrics) RecordTickDuration(float64)           {}
func (fakeMetrics) RecordBarsIngested(string, int)       {}

type fakeExtremes struct {
	high, low float64
	err       error
	calls     int
}

func (f *fakeExtremes) PriorHourHighLow(context.Context, string, time.Time) (float64, float64, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.high, f.low, nil
}

type fakeBarSource struct {
	mu   sync.Mutex
	bars []models.Bar
}

func (f *fakeBarSource) GetBars(_ context.Context, symbol string, since time.Time) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Bar
	for _, b := range f.bars {
		if b.Symbol == symbol && b.OpenTime.After(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBarSource) add(bars ...models.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars = append(f.bars, bars...)
}

func testDetectorConfig() DetectorConfig {
	return DetectorConfig{
		OpeningWindow:    10 * time.Minute,
		MinRangeBars:     2,
		BreakoutPct:      0.001,
		GapMinPct:        0.002,
		GapExpiryBars:    12,
		RetestExpiryBars: 24,
		VolLookback:      3,
		VolSpikeRatio:    3.0,
	}
}
