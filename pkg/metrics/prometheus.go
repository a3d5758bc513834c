package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
	tickDuration     prometheus.Histogram
	barsIngested     *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbwatch_signals_total",
				Help: "Confirmed signals by symbol, resolution and direction",
			},
			[]string{"symbol", "resolution", "direction"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbwatch_trade_transitions_total",
				Help: "Trade status transitions by symbol and status",
			},
			[]string{"symbol", "status"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbwatch_errors_total",
				Help: "Errors encountered by type",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orbwatch_last_price",
				Help: "Last observed close price per symbol",
			},
			[]string{"symbol"},
		),
		tickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orbwatch_tick_duration_seconds",
				Help:    "Duration of one full engine pass",
				Buckets: prometheus.DefBuckets,
			},
		),
		barsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbwatch_bars_ingested_total",
				Help: "Minute bars pulled into the engine per symbol",
			},
			[]string{"symbol"},
		),
	}
}

// RecordSignal records a confirmed signal.
func (r *Recorder) RecordSignal(symbol, resolution, direction string) {
	r.signalsTotal.WithLabelValues(symbol, resolution, direction).Inc()
}

// RecordTradeTransition records a trade status transition.
func (r *Recorder) RecordTradeTransition(symbol, status string) {
	r.transitionsTotal.WithLabelValues(symbol, status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordTickDuration records one engine pass duration in seconds.
func (r *Recorder) RecordTickDuration(seconds float64) {
	r.tickDuration.Observe(seconds)
}

// RecordBarsIngested records bars pulled into the engine.
func (r *Recorder) RecordBarsIngested(symbol string, n int) {
	if n > 0 {
		r.barsIngested.WithLabelValues(symbol).Add(float64(n))
	}
}
