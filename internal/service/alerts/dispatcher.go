package alerts

import (
	"context"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/internal/service/ratelimit"
	"OrbWatch/pkg/logger"
)

// Config tunes delivery retries and flood control.
type Config struct {
	MaxAttempts int           // per event, per sink
	Backoff     time.Duration // base backoff, doubles per attempt
	MaxPerMin   float64       // per-symbol event budget, zero disables
}

// Dispatcher fans one alert event out to every configured sink with bounded
// retries. An event that still fails after the last attempt is logged and
// dropped; alert delivery never blocks or fails the detection pipeline.
type Dispatcher struct {
	cfg     Config
	sinks   []domrepo.AlertSink
	limiter *ratelimit.Limiter
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewDispatcher(cfg Config, metrics domrepo.Metrics, log *logger.Logger, sinks ...domrepo.AlertSink) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Dispatcher{cfg: cfg, sinks: sinks, limiter: ratelimit.New(), metrics: metrics, log: log}
}

// Publish delivers the event to every sink. It returns an error only when no
// sink accepted the event.
func (d *Dispatcher) Publish(ctx context.Context, ev *models.AlertEvent) error {
	if d.cfg.MaxPerMin > 0 && !d.limiter.Allow(ev.Symbol, d.cfg.MaxPerMin, d.cfg.MaxPerMin/60) {
		d.log.Warn("alert suppressed by rate limit",
			logger.String("type", ev.Type),
			logger.String("symbol", ev.Symbol))
		d.metrics.RecordError("alert_ratelimited")
		return nil
	}

	delivered := 0
	for _, sink := range d.sinks {
		if err := d.publishOne(ctx, sink, ev); err != nil {
			d.log.Error("alert dropped after retries",
				logger.String("type", ev.Type),
				logger.String("symbol", ev.Symbol),
				logger.Error(err))
			d.metrics.RecordError("alert_dropped")
			continue
		}
		delivered++
	}
	if delivered == 0 && len(d.sinks) > 0 {
		return models.ErrDelivery
	}
	return nil
}

func (d *Dispatcher) publishOne(ctx context.Context, sink domrepo.AlertSink, ev *models.AlertEvent) error {
	var err error
	backoff := d.cfg.Backoff
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err = sink.Publish(ctx, ev); err == nil {
			return nil
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (d *Dispatcher) Close() error {
	var first error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ domrepo.AlertSink = (*Dispatcher)(nil)
