package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OrbWatch/internal/domain/models"
	"OrbWatch/pkg/logger"
)

type stubSink struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
}

func (s *stubSink) Publish(context.Context, *models.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("sink down")
	}
	return nil
}

func (s *stubSink) Close() error { return nil }

func (s *stubSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[kind]++
}

func (m *stubMetrics) RecordSignal(string, string, string)  {}
func (m *stubMetrics) RecordTradeTransition(string, string) {}
func (m *stubMetrics) RecordLastPrice(string, float64)      {}
func (m *stubMetrics) RecordTickDuration(float64)           {}
func (m *stubMetrics) RecordBarsIngested(string, int)       {}

func (m *stubMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func testEvent() *models.AlertEvent {
	return &models.AlertEvent{
		Type:      models.AlertSignalConfirmed,
		Symbol:    "TST",
		Timestamp: time.Now().UTC(),
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	sink := &stubSink{failures: 2}
	d := NewDispatcher(Config{MaxAttempts: 3, Backoff: time.Millisecond}, &stubMetrics{}, newTestLogger(t), sink)

	if err := d.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if sink.callCount() != 3 {
		t.Fatalf("sink calls = %d", sink.callCount())
	}
}

func TestDispatcherReportsTotalFailure(t *testing.T) {
	sink := &stubSink{failures: 100}
	m := &stubMetrics{}
	d := NewDispatcher(Config{MaxAttempts: 2, Backoff: time.Millisecond}, m, newTestLogger(t), sink)

	if err := d.Publish(context.Background(), testEvent()); !errors.Is(err, models.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if m.errorCount("alert_dropped") != 1 {
		t.Fatalf("alert_dropped = %d", m.errorCount("alert_dropped"))
	}
}

func TestDispatcherPartialDeliveryIsSuccess(t *testing.T) {
	dead := &stubSink{failures: 100}
	live := &stubSink{}
	d := NewDispatcher(Config{MaxAttempts: 2, Backoff: time.Millisecond}, &stubMetrics{}, newTestLogger(t), dead, live)

	if err := d.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if live.callCount() != 1 {
		t.Fatalf("live sink calls = %d", live.callCount())
	}
}

func TestDispatcherRateLimitsPerSymbol(t *testing.T) {
	sink := &stubSink{}
	m := &stubMetrics{}
	d := NewDispatcher(Config{MaxAttempts: 1, Backoff: time.Millisecond, MaxPerMin: 2}, m, newTestLogger(t), sink)

	for i := 0; i < 5; i++ {
		if err := d.Publish(context.Background(), testEvent()); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if sink.callCount() != 2 {
		t.Fatalf("delivered = %d, want budget of 2", sink.callCount())
	}
	if m.errorCount("alert_ratelimited") != 3 {
		t.Fatalf("suppressed = %d", m.errorCount("alert_ratelimited"))
	}

	// A different symbol draws from its own bucket.
	other := testEvent()
	other.Symbol = "OTHER"
	if err := d.Publish(context.Background(), other); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if sink.callCount() != 3 {
		t.Fatalf("delivered after other symbol = %d", sink.callCount())
	}
}
