package repository

import (
	"context"
	"time"

	"OrbWatch/internal/domain/models"
)

// BarSource supplies ordered 1-minute bars. Implementations may return fewer
// bars than expected; callers must tolerate gaps.
type BarSource interface {
	// GetBars returns bars with OpenTime strictly after since, ascending.
	GetBars(ctx context.Context, symbol string, since time.Time) ([]models.Bar, error)
}

// PriorExtremes supplies the previous completed clock-hour high/low used by
// the target calculator.
type PriorExtremes interface {
	PriorHourHighLow(ctx context.Context, symbol string, asOf time.Time) (high, low float64, err error)
}

// AlertSink receives structured events for confirmed signals and trade
// status transitions. Delivery is fire-and-forget; the core never depends on
// acknowledgement.
type AlertSink interface {
	Publish(ctx context.Context, ev *models.AlertEvent) error
	Close() error
}

// StateStore is the durable gateway for in-flight detector and trade state.
// Upserts are atomic; all non-terminal state reloads on process start.
type StateStore interface {
	UpsertSession(ctx context.Context, s *models.SessionState) error
	UpsertTrade(ctx context.Context, t *models.TradeRecord) error
	LoadOpenSessions(ctx context.Context) ([]*models.SessionState, error)
	LoadOpenTrades(ctx context.Context) ([]*models.TradeRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// TickStream delivers live ticks that the bar builder folds into minute bars.
type TickStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Metrics records operational measurements.
type Metrics interface {
	RecordSignal(symbol, resolution, direction string)
	RecordTradeTransition(symbol, status string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordTickDuration(seconds float64)
	RecordBarsIngested(symbol string, n int)
}
