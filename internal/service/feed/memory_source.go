package feed

import (
	"context"
	"sync"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
)

// MemoryBarStore keeps a rolling per-symbol window of closed minute bars in
// memory. The Builder writes into it and the engine reads from it, so the
// service runs without ClickHouse when durability of bars is not needed.
type MemoryBarStore struct {
	retention time.Duration

	mu   sync.RWMutex
	bars map[string][]models.Bar // ascending by OpenTime
}

func NewMemoryBarStore(retention time.Duration) *MemoryBarStore {
	if retention <= 0 {
		retention = 12 * time.Hour
	}
	return &MemoryBarStore{
		retention: retention,
		bars:      make(map[string][]models.Bar),
	}
}

// InsertBars appends closed bars, keeping each symbol's window sorted and
// trimmed to the retention horizon. Replayed bars are dropped.
func (m *MemoryBarStore) InsertBars(_ context.Context, bars []models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range bars {
		buf := m.bars[b.Symbol]
		if n := len(buf); n > 0 && !b.OpenTime.After(buf[n-1].OpenTime) {
			continue
		}
		m.bars[b.Symbol] = append(buf, b)
	}

	horizon := time.Now().Add(-m.retention)
	for sym, buf := range m.bars {
		cut := 0
		for cut < len(buf) && buf[cut].OpenTime.Before(horizon) {
			cut++
		}
		if cut > 0 {
			m.bars[sym] = buf[cut:]
		}
	}
	return nil
}

// GetBars returns bars with OpenTime strictly after since, ascending.
func (m *MemoryBarStore) GetBars(_ context.Context, symbol string, since time.Time) ([]models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf := m.bars[symbol]
	i := 0
	for i < len(buf) && !buf[i].OpenTime.After(since) {
		i++
	}
	if i >= len(buf) {
		return nil, nil
	}
	out := make([]models.Bar, len(buf)-i)
	copy(out, buf[i:])
	return out, nil
}

// PriorHourHighLow scans the retained window for the previous completed
// clock hour before asOf.
func (m *MemoryBarStore) PriorHourHighLow(_ context.Context, symbol string, asOf time.Time) (float64, float64, error) {
	end := asOf.UTC().Truncate(time.Hour)
	start := end.Add(-time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var high, low float64
	found := false
	for _, b := range m.bars[symbol] {
		t := b.OpenTime.UTC()
		if t.Before(start) {
			continue
		}
		if !t.Before(end) {
			break
		}
		if !found || b.High > high {
			high = b.High
		}
		if !found || b.Low < low {
			low = b.Low
		}
		found = true
	}
	if !found {
		return 0, 0, models.ErrDataGap
	}
	return high, low, nil
}

var (
	_ domrepo.BarSource     = (*MemoryBarStore)(nil)
	_ domrepo.PriorExtremes = (*MemoryBarStore)(nil)
	_ BarWriter             = (*MemoryBarStore)(nil)
)
