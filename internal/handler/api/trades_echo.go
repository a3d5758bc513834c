package api

import (
	"sort"

	"github.com/labstack/echo/v4"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/internal/usecase"
	xhttp "OrbWatch/pkg/http"
	xlogger "OrbWatch/pkg/logger"
)

// TradesEchoHandler exposes the tracked trades and session signals over HTTP.
type TradesEchoHandler struct {
	logger    *xlogger.Logger
	engine    *usecase.Engine
	lifecycle *usecase.Lifecycle
	store     domrepo.StateStore
}

func NewTradesEchoHandler(logger *xlogger.Logger, engine *usecase.Engine, lifecycle *usecase.Lifecycle, store domrepo.StateStore) *TradesEchoHandler {
	return &TradesEchoHandler{logger: logger, engine: engine, lifecycle: lifecycle, store: store}
}

func (h *TradesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/trades", h.Trades)
	g.GET("/trades/open", h.OpenTrades)
	g.GET("/signals/:symbol", h.Signal)
	e.GET("/healthz", h.Health)
}

// Trades lists every tracked trade, optionally filtered by status or symbol.
func (h *TradesEchoHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	trades := h.lifecycle.Trades()
	filtered := trades[:0]
	for _, t := range trades {
		if req.Status != "" && t.Status != models.TradeStatus(req.Status) {
			continue
		}
		if req.Symbol != "" && t.Symbol != req.Symbol {
			continue
		}
		filtered = append(filtered, t)
	}
	sortTrades(filtered)
	return xhttp.ListResponse(c, filtered, int64(len(filtered)))
}

// OpenTrades lists trades that may still transition.
func (h *TradesEchoHandler) OpenTrades(c echo.Context) error {
	trades := h.lifecycle.OpenTrades()
	sortTrades(trades)
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

// Signal returns the confirmed signal for the symbol's current session.
func (h *TradesEchoHandler) Signal(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	sig := h.engine.SignalFor(req.Symbol)
	if sig == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no confirmed signal for %s this session", req.Symbol))
	}
	return xhttp.SuccessResponse(c, sig)
}

// Health reports state-store reachability and the tracked sessions.
func (h *TradesEchoHandler) Health(c echo.Context) error {
	checks := map[string]string{"state_store": "ok"}
	status := "ok"
	if err := h.store.Health(c.Request().Context()); err != nil {
		h.logger.Error("state store health check failed", xlogger.Error(err))
		checks["state_store"] = err.Error()
		status = "degraded"
	}
	return xhttp.SuccessResponse(c, &models.HealthResponse{
		Status:   status,
		Sessions: h.engine.Sessions(),
		Checks:   checks,
	})
}

func sortTrades(trades []*models.TradeRecord) {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].OpenedAt.After(trades[j].OpenedAt)
	})
}
