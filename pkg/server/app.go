package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/internal/service/feed"
	"OrbWatch/internal/usecase"
	pkgch "OrbWatch/pkg/clickhouse"
	"OrbWatch/pkg/config"
	xhttp "OrbWatch/pkg/http"
	applogger "OrbWatch/pkg/logger"
)

// App encapsulates the entire application lifecycle: state restore, the bar
// feed, the engine tick loop, and the HTTP API.
type App struct {
	cfg     *config.Config
	log     *applogger.Logger
	engine  *usecase.Engine
	builder *feed.Builder // nil when bars come from an external writer
	handler xhttp.Handler
	store   domrepo.StateStore
	alerts  domrepo.AlertSink
	ch      *pkgch.Client // nil for the memory bars backend

	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	builder *feed.Builder,
	handler xhttp.Handler,
	store domrepo.StateStore,
	alerts domrepo.AlertSink,
	ch *pkgch.Client,
) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		engine:  engine,
		builder: builder,
		handler: handler,
		store:   store,
		alerts:  alerts,
		ch:      ch,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restoreCtx, restoreCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := a.engine.Restore(restoreCtx); err != nil {
		restoreCancel()
		a.log.Error("state restore failed", applogger.Error(err))
		return err
	}
	restoreCancel()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.builder != nil {
		go func() {
			if err := a.builder.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("feed builder stopped", applogger.Error(err))
			}
		}()
		a.log.Info("feed builder started", applogger.Strings("symbols", a.cfg.Engine.Symbols))
	}

	go a.tickLoop(ctx)
	a.log.Info("engine started",
		applogger.Duration("tick_interval", a.cfg.Engine.TickInterval),
		applogger.Strings("symbols", a.cfg.Engine.Symbols))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Engine.TickInterval)
	defer ticker.Stop()

	a.engine.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.engine.Tick(ctx, now)
		}
	}
}

// shutdown stops the HTTP server and closes infrastructure clients.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.alerts.Close(); err != nil {
		a.log.Warn("alert sink close error", applogger.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close error", applogger.Error(err))
	}
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
