package di

import (
	"context"
	"fmt"
	"time"

	"OrbWatch/internal/domain/repository"
	"OrbWatch/internal/handler/api"
	internalrepo "OrbWatch/internal/repository"
	"OrbWatch/internal/service/alerts"
	"OrbWatch/internal/service/feed"
	"OrbWatch/internal/usecase"
	"OrbWatch/pkg/cache"
	pkgch "OrbWatch/pkg/clickhouse"
	"OrbWatch/pkg/config"
	xhttp "OrbWatch/pkg/http"
	pkgkafka "OrbWatch/pkg/kafka"
	"OrbWatch/pkg/logger"
	"OrbWatch/pkg/metrics"
	"OrbWatch/pkg/server"
	"OrbWatch/pkg/util"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache creates the Redis client used for state persistence and
// the shared cache.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	opts := []cache.RedisOption{
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("orbwatch"),
	}
	if cfg.Redis.PoolSize > 0 {
		opts = append(opts, cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout))
	}
	rc, err := cache.NewRedisCache(opts...)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideStateStore creates the Redis-backed state gateway.
func ProvideStateStore(rc *cache.RedisCache) repository.StateStore {
	return internalrepo.NewRedisStateStore(rc)
}

// ProvideSharedCache layers an in-process cache over Redis for hot lookups.
func ProvideSharedCache(rc *cache.RedisCache) cache.Service {
	return cache.NewLayeredCache(rc)
}

// BarBackend bundles the configured bar storage: the engine's read side, the
// prior-hour extremes source, and the feed builder's write side.
type BarBackend struct {
	Source   repository.BarSource
	Extremes repository.PriorExtremes
	Writer   feed.BarWriter
	CH       *pkgch.Client // nil for the memory backend
}

// ProvideBarBackend selects the bar storage per config.
func ProvideBarBackend(cfg *config.Config) (*BarBackend, error) {
	if cfg.Bars.Backend == "memory" {
		mem := feed.NewMemoryBarStore(0)
		return &BarBackend{Source: mem, Extremes: mem, Writer: mem}, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := internalrepo.NewBarStore(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &BarBackend{Source: store, Extremes: store, Writer: store, CH: client}, nil
}

// ProvideBuilder creates the live feed builder, or nil when no feed API key
// is configured and bars arrive through an external writer.
func ProvideBuilder(cfg *config.Config, bb *BarBackend, m repository.Metrics, log *logger.Logger) *feed.Builder {
	if cfg.Feed.APIKey == "" {
		return nil
	}
	stream := feed.NewStream(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Engine.Symbols,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
		log,
	)
	return feed.NewBuilder(stream, bb.Writer, m, log)
}

// ProvideAlertSink builds the configured sinks behind the retrying dispatcher.
func ProvideAlertSink(cfg *config.Config, m repository.Metrics, log *logger.Logger) (repository.AlertSink, error) {
	var sinks []repository.AlertSink

	if cfg.Alerts.Backend == "kafka" || cfg.Alerts.Backend == "both" {
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
			pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		sinks = append(sinks, internalrepo.NewKafkaAlertSink(producer, cfg.Kafka.Topic))
	}

	if cfg.Alerts.Backend == "webhook" || cfg.Alerts.Backend == "both" {
		timeout := cfg.Alerts.Webhook.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client := xhttp.NewClient(xhttp.WithTimeout(timeout))
		sinks = append(sinks, internalrepo.NewWebhookAlertSink(client, cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Headers))
	}

	return alerts.NewDispatcher(alerts.Config{
		MaxAttempts: cfg.Alerts.MaxAttempts,
		Backoff:     cfg.Alerts.Backoff,
		MaxPerMin:   cfg.Alerts.MaxPerMin,
	}, m, log, sinks...), nil
}

// ProvideDetector creates the chain detector from config.
func ProvideDetector(cfg *config.Config) *usecase.Detector {
	return usecase.NewDetector(usecase.DetectorConfig{
		OpeningWindow:    cfg.Detection.OpeningWindow,
		MinRangeBars:     cfg.Detection.MinRangeBars,
		BreakoutPct:      cfg.Detection.BreakoutPct,
		GapMinPct:        cfg.Detection.GapMinPct,
		GapExpiryBars:    cfg.Detection.GapExpiryBars,
		RetestExpiryBars: cfg.Detection.RetestExpiryBars,
		VolLookback:      cfg.Detection.VolLookback,
		VolSpikeRatio:    cfg.Detection.VolSpikeRatio,
	})
}

// ProvideSelector creates the multi-resolution selector.
func ProvideSelector(cfg *config.Config, det *usecase.Detector) (*usecase.Selector, error) {
	resolutions := make([]repository.Resolution, 0, len(cfg.Detection.Resolutions))
	for _, r := range cfg.Detection.Resolutions {
		res := repository.Resolution(r)
		if !res.Valid() {
			return nil, fmt.Errorf("invalid resolution %q", r)
		}
		resolutions = append(resolutions, res)
	}

	var cutoff time.Duration
	if cfg.Session.EntryCutoff != "" {
		d, err := time.ParseDuration(cfg.Session.EntryCutoff)
		if err != nil {
			return nil, fmt.Errorf("entry cutoff: %w", err)
		}
		cutoff = d
	}
	return usecase.NewSelector(det, resolutions, cutoff), nil
}

// ProvideTargetCalculator creates the target calculator with cached
// prior-hour extremes.
func ProvideTargetCalculator(cfg *config.Config, bb *BarBackend, c cache.Service, log *logger.Logger) *usecase.TargetCalculator {
	extremes := usecase.NewCachedExtremes(bb.Extremes, c, cfg.Targets.ExtremesTTL)
	return usecase.NewTargetCalculator(usecase.TargetConfig{
		StopBuffer:    cfg.Targets.StopBuffer,
		MinRisk:       cfg.Targets.MinRisk,
		T1Multiple:    cfg.Targets.T1Multiple,
		T2MinMultiple: cfg.Targets.T2MinMultiple,
	}, extremes, log)
}

// ProvideLifecycle creates the trade lifecycle manager.
func ProvideLifecycle(cfg *config.Config, store repository.StateStore, sink repository.AlertSink, m repository.Metrics, log *logger.Logger) *usecase.Lifecycle {
	return usecase.NewLifecycle(usecase.LifecycleConfig{
		MaxHold: cfg.Trades.MaxHold,
	}, store, sink, m, log)
}

// ProvideEngine creates the engine from the session calendar and pipeline
// components.
func ProvideEngine(
	cfg *config.Config,
	sel *usecase.Selector,
	targets *usecase.TargetCalculator,
	lc *usecase.Lifecycle,
	bb *BarBackend,
	store repository.StateStore,
	sink repository.AlertSink,
	m repository.Metrics,
	log *logger.Logger,
) (*usecase.Engine, error) {
	loc, err := time.LoadLocation(cfg.Session.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session timezone: %w", err)
	}
	openH, openM, err := util.ParseClock(cfg.Session.Open)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	closeH, closeM, err := util.ParseClock(cfg.Session.Close)
	if err != nil {
		return nil, fmt.Errorf("session close: %w", err)
	}

	return usecase.NewEngine(usecase.EngineConfig{
		Symbols:    cfg.Engine.Symbols,
		OpenHour:   openH,
		OpenMin:    openM,
		CloseHour:  closeH,
		CloseMin:   closeM,
		Location:   loc,
		StaleAfter: cfg.Engine.StaleAfter,
	}, sel, targets, lc, bb.Source, store, sink, m, log), nil
}

// ProvideHandler creates the HTTP API handler.
func ProvideHandler(log *logger.Logger, engine *usecase.Engine, lc *usecase.Lifecycle, store repository.StateStore) xhttp.Handler {
	return api.NewTradesEchoHandler(log, engine, lc, store)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	engine *usecase.Engine,
	builder *feed.Builder,
	handler xhttp.Handler,
	store repository.StateStore,
	sink repository.AlertSink,
	bb *BarBackend,
) *server.App {
	return server.New(cfg, log, engine, builder, handler, store, sink, bb.CH)
}
