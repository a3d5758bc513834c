package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/internal/usecase"
	xhttp "OrbWatch/pkg/http"
	xlogger "OrbWatch/pkg/logger"
)

type stubStore struct {
	healthErr error
}

func (s *stubStore) UpsertSession(context.Context, *models.SessionState) error { return nil }
func (s *stubStore) UpsertTrade(context.Context, *models.TradeRecord) error    { return nil }
func (s *stubStore) LoadOpenSessions(context.Context) ([]*models.SessionState, error) {
	return nil, nil
}
func (s *stubStore) LoadOpenTrades(context.Context) ([]*models.TradeRecord, error) {
	return nil, nil
}
func (s *stubStore) Health(context.Context) error { return s.healthErr }
func (s *stubStore) Close() error                 { return nil }

type stubSink struct{}

func (stubSink) Publish(context.Context, *models.AlertEvent) error { return nil }
func (stubSink) Close() error                                      { return nil }

type stubMetrics struct{}

func (stubMetrics) RecordSignal(string, string, string)  {}
func (stubMetrics) RecordTradeTransition(string, string) {}
func (stubMetrics) RecordError(string)                   {}
func (stubMetrics) RecordLastPrice(string, float64)      {}
func (stubMetrics) RecordTickDuration(float64)           {}
func (stubMetrics) RecordBarsIngested(string, int)       {}

func newTestHandler(t *testing.T, store *stubStore, trades ...*models.TradeRecord) (*echo.Echo, *usecase.Engine) {
	t.Helper()
	log, err := xlogger.New(&xlogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	det := usecase.NewDetector(usecase.DetectorConfig{OpeningWindow: 10 * time.Minute, MinRangeBars: 2, BreakoutPct: 0.001, GapMinPct: 0.002, GapExpiryBars: 12, RetestExpiryBars: 24})
	sel := usecase.NewSelector(det, []domrepo.Resolution{domrepo.Res1m}, 0)
	targets := usecase.NewTargetCalculator(usecase.TargetConfig{MinRisk: 0.01}, nil, log)
	lc := usecase.NewLifecycle(usecase.LifecycleConfig{}, store, stubSink{}, stubMetrics{}, log)
	lc.Restore(trades)

	engine := usecase.NewEngine(usecase.EngineConfig{
		Symbols:  []string{"TST"},
		OpenHour: 9, OpenMin: 30,
		CloseHour: 16,
		Location:  time.UTC,
	}, sel, targets, lc, nil, store, stubSink{}, stubMetrics{}, log)

	e := echo.New()
	NewTradesEchoHandler(log, engine, lc, store).RegisterRoutes(e)
	return e, engine
}

func testTradeRecord(id, symbol string, status models.TradeStatus, openedAt time.Time) *models.TradeRecord {
	return &models.TradeRecord{
		ID:          id,
		Symbol:      symbol,
		SessionDate: "2024-10-10",
		Direction:   models.DirUp,
		Grade:       models.GradeA,
		EntryPrice:  109,
		StopPrice:   100,
		Target1:     127,
		Risk:        9,
		Status:      status,
		OpenedAt:    openedAt,
		LastBarTime: openedAt,
	}
}

func doRequest(t *testing.T, e *echo.Echo, path string) (int, xhttp.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body xhttp.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, body
}

func listRows(t *testing.T, body xhttp.APIResponse) []map[string]interface{} {
	t.Helper()
	data, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", body.Data)
	}
	raw, _ := data["rows"].([]interface{})
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, r.(map[string]interface{}))
	}
	return rows
}

func TestTradesEndpointFiltersAndSorts(t *testing.T) {
	base := time.Date(2024, 10, 10, 9, 44, 0, 0, time.UTC)
	e, _ := newTestHandler(t, &stubStore{},
		testTradeRecord("t1", "TST", models.StatusOpen, base),
		testTradeRecord("t2", "TST", models.StatusStopped, base.Add(10*time.Minute)),
		testTradeRecord("t3", "OTHER", models.StatusOpen, base.Add(20*time.Minute)),
	)

	code, body := doRequest(t, e, "/api/v1/trades")
	if code != http.StatusOK || body.Status != http.StatusOK {
		t.Fatalf("status = %d/%d", code, body.Status)
	}
	rows := listRows(t, body)
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	// Newest first.
	if rows[0]["id"] != "t3" || rows[2]["id"] != "t1" {
		t.Fatalf("order = %v, %v, %v", rows[0]["id"], rows[1]["id"], rows[2]["id"])
	}

	_, body = doRequest(t, e, "/api/v1/trades?status=open&symbol=TST")
	rows = listRows(t, body)
	if len(rows) != 1 || rows[0]["id"] != "t1" {
		t.Fatalf("filtered rows = %v", rows)
	}
}

func TestTradesEndpointRejectsBadStatus(t *testing.T) {
	e, _ := newTestHandler(t, &stubStore{})

	_, body := doRequest(t, e, "/api/v1/trades?status=parabolic")
	if body.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", body.Status)
	}
}

func TestOpenTradesEndpoint(t *testing.T) {
	base := time.Date(2024, 10, 10, 9, 44, 0, 0, time.UTC)
	e, _ := newTestHandler(t, &stubStore{},
		testTradeRecord("t1", "TST", models.StatusOpen, base),
		testTradeRecord("t2", "TST", models.StatusStopped, base.Add(10*time.Minute)),
	)

	_, body := doRequest(t, e, "/api/v1/trades/open")
	rows := listRows(t, body)
	if len(rows) != 1 || rows[0]["id"] != "t1" {
		t.Fatalf("open rows = %v", rows)
	}
}

func TestSignalEndpointNotFound(t *testing.T) {
	e, _ := newTestHandler(t, &stubStore{})

	_, body := doRequest(t, e, "/api/v1/signals/TST")
	if body.Status != http.StatusNotFound {
		t.Fatalf("status = %d", body.Status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestHandler(t, &stubStore{})

	code, body := doRequest(t, e, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	data := body.Data.(map[string]interface{})
	if data["status"] != "ok" {
		t.Fatalf("health = %v", data)
	}

	e, _ = newTestHandler(t, &stubStore{healthErr: models.ErrStaleData})
	_, body = doRequest(t, e, "/healthz")
	data = body.Data.(map[string]interface{})
	if data["status"] != "degraded" {
		t.Fatalf("health with failing store = %v", data)
	}
}
