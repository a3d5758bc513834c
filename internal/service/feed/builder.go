package feed

import (
	"context"
	"sync"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/logger"
)

// BarWriter persists closed minute bars.
type BarWriter interface {
	InsertBars(ctx context.Context, bars []models.Bar) error
}

// Builder folds live ticks into 1-minute bars and flushes each bar once its
// minute has closed. A flush ticker closes out bars on quiet symbols.
type Builder struct {
	stream  domrepo.TickStream
	writer  BarWriter
	metrics domrepo.Metrics
	log     *logger.Logger

	mu      sync.Mutex
	working map[string]*models.Bar // one in-progress bar per symbol
}

func NewBuilder(stream domrepo.TickStream, writer BarWriter, metrics domrepo.Metrics, log *logger.Logger) *Builder {
	return &Builder{
		stream:  stream,
		writer:  writer,
		metrics: metrics,
		log:     log,
		working: make(map[string]*models.Bar),
	}
}

// Run consumes the tick stream until the context ends, reconnecting on
// stream errors. Blocks; run in its own goroutine.
func (b *Builder) Run(ctx context.Context) error {
	if err := b.stream.Connect(ctx); err != nil {
		return err
	}
	if err := b.stream.Subscribe(ctx); err != nil {
		return err
	}

	flush := time.NewTicker(5 * time.Second)
	defer flush.Stop()
	defer b.flushAll(context.WithoutCancel(ctx))

	for {
		ticks, errs := b.stream.Read(ctx)
	consume:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-flush.C:
				b.flushClosed(ctx, time.Now())
			case tick, ok := <-ticks:
				if !ok {
					break consume
				}
				b.onTick(ctx, tick)
			case err, ok := <-errs:
				if !ok {
					break consume
				}
				b.log.Warn("feed stream error", logger.Error(err))
				b.metrics.RecordError("feed_stream")
				break consume
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.stream.Reconnect(ctx); err != nil {
			b.log.Error("feed reconnect failed", logger.Error(err))
			b.metrics.RecordError("feed_reconnect")
		}
	}
}

func (b *Builder) onTick(ctx context.Context, tick *models.Tick) {
	minute := time.Unix(tick.Timestamp, 0).UTC().Truncate(time.Minute)

	b.mu.Lock()
	var closed *models.Bar
	cur := b.working[tick.Symbol]
	switch {
	case cur == nil:
		b.working[tick.Symbol] = newBar(tick, minute)
	case minute.After(cur.OpenTime):
		closed = cur
		b.working[tick.Symbol] = newBar(tick, minute)
	case minute.Before(cur.OpenTime):
		// late tick for an already closed minute, drop it
	default:
		cur.High = max(cur.High, tick.Price)
		cur.Low = min(cur.Low, tick.Price)
		cur.Close = tick.Price
		cur.Volume += tick.Volume
	}
	b.mu.Unlock()

	if closed != nil {
		b.persist(ctx, []models.Bar{*closed})
	}
}

// flushClosed writes out every in-progress bar whose minute has fully passed.
func (b *Builder) flushClosed(ctx context.Context, now time.Time) {
	cutoff := now.UTC().Truncate(time.Minute)

	b.mu.Lock()
	var closed []models.Bar
	for sym, bar := range b.working {
		if bar.OpenTime.Before(cutoff) {
			closed = append(closed, *bar)
			delete(b.working, sym)
		}
	}
	b.mu.Unlock()

	if len(closed) > 0 {
		b.persist(ctx, closed)
	}
}

// flushAll writes out every in-progress bar, used on shutdown.
func (b *Builder) flushAll(ctx context.Context) {
	b.mu.Lock()
	var bars []models.Bar
	for sym, bar := range b.working {
		bars = append(bars, *bar)
		delete(b.working, sym)
	}
	b.mu.Unlock()

	if len(bars) > 0 {
		b.persist(ctx, bars)
	}
}

func (b *Builder) persist(ctx context.Context, bars []models.Bar) {
	if err := b.writer.InsertBars(ctx, bars); err != nil {
		b.log.Error("bar persist failed",
			logger.Int("bars", len(bars)),
			logger.Error(err))
		b.metrics.RecordError("bar_persist")
		return
	}
	for _, bar := range bars {
		b.metrics.RecordLastPrice(bar.Symbol, bar.Close)
	}
}

func newBar(tick *models.Tick, minute time.Time) *models.Bar {
	return &models.Bar{
		Symbol:   tick.Symbol,
		OpenTime: minute,
		Open:     tick.Price,
		High:     tick.Price,
		Low:      tick.Price,
		Close:    tick.Price,
		Volume:   tick.Volume,
	}
}
