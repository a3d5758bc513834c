package repository

import (
	"context"
	"fmt"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/clickhouse"
)

// Schema statements for the minute-bar table, applied idempotently on start.
var barSchema = []string{
	`CREATE TABLE IF NOT EXISTS bars_1m (
		symbol     LowCardinality(String),
		open_time  DateTime64(3, 'UTC'),
		open       Float64,
		high       Float64,
		low        Float64,
		close      Float64,
		volume     Float64
	) ENGINE = ReplacingMergeTree()
	ORDER BY (symbol, open_time)
	TTL toDateTime(open_time) + INTERVAL 90 DAY`,
}

// BarStore reads and writes 1-minute bars in ClickHouse. It backs both the
// engine's bar feed and the prior-hour extremes used for second targets.
type BarStore struct {
	ch *clickhouse.Client
}

func NewBarStore(ctx context.Context, ch *clickhouse.Client) (*BarStore, error) {
	if err := ch.InitSchema(ctx, barSchema); err != nil {
		return nil, fmt.Errorf("bar schema: %w", err)
	}
	return &BarStore{ch: ch}, nil
}

// GetBars returns bars with open_time strictly after since, ascending.
func (s *BarStore) GetBars(ctx context.Context, symbol string, since time.Time) ([]models.Bar, error) {
	const q = `
		SELECT symbol, open_time, open, high, low, close, volume
		FROM bars_1m FINAL
		WHERE symbol = ? AND open_time > ?
		ORDER BY open_time ASC`

	rows, err := s.ch.DB().QueryContext(ctx, q, symbol, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Symbol, &b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	return bars, nil
}

// InsertBars persists a batch of closed bars. The ReplacingMergeTree engine
// dedupes replays on (symbol, open_time).
func (s *BarStore) InsertBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.ch.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bars_1m (symbol, open_time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.OpenTime.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert bar %s %s: %w", b.Symbol, b.OpenTime.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// PriorHourHighLow returns the high and low of the previous completed clock
// hour before asOf. No rows in that hour is an error; the caller treats it as
// "no second target".
func (s *BarStore) PriorHourHighLow(ctx context.Context, symbol string, asOf time.Time) (float64, float64, error) {
	end := asOf.UTC().Truncate(time.Hour)
	start := end.Add(-time.Hour)

	const q = `
		SELECT max(high), min(low), count()
		FROM bars_1m FINAL
		WHERE symbol = ? AND open_time >= ? AND open_time < ?`

	var high, low float64
	var n uint64
	if err := s.ch.DB().QueryRowContext(ctx, q, symbol, start, end).Scan(&high, &low, &n); err != nil {
		return 0, 0, fmt.Errorf("query prior hour: %w", err)
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("no bars for %s in [%s, %s)", symbol, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return high, low, nil
}

// Health checks the ClickHouse connection.
func (s *BarStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

var (
	_ domrepo.BarSource     = (*BarStore)(nil)
	_ domrepo.PriorExtremes = (*BarStore)(nil)
)
