package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	svccache "TradeLoop/internal/service/cache"
	"TradeLoop/internal/service/ratelimit"
	xhttp "TradeLoop/pkg/http"
	xlogger "TradeLoop/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DecisionLoop is the scheduler as seen by the control surface.
type DecisionLoop interface {
	Start() bool
	Stop() bool
	State() models.SchedulerState
	Analyze(ctx context.Context, symbol string) (models.AggregatedDecision, error)
	Decisions() *svccache.DecisionCache
}

// OrderExecutor places manual orders.
type OrderExecutor interface {
	Execute(ctx context.Context, symbol string, side models.OrderSide, quantity int) (models.OrderResult, error)
}

// DecisionHistory reads journaled decisions and the last mirrored one.
type DecisionHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error)
	Mirrored(ctx context.Context, symbol string) (models.AggregatedDecision, error)
}

// TradingEchoHandler serves the control surface under /api.
type TradingEchoHandler struct {
	logger    *xlogger.Logger
	loop      DecisionLoop
	orders    OrderExecutor
	watchlist domrepo.WatchlistProvider
	history   DecisionHistory
	rl        *ratelimit.Limiter
}

func NewTradingEchoHandler(
	logger *xlogger.Logger,
	loop DecisionLoop,
	orders OrderExecutor,
	watchlist domrepo.WatchlistProvider,
	history DecisionHistory,
	rl *ratelimit.Limiter,
) *TradingEchoHandler {
	return &TradingEchoHandler{
		logger:    logger.With("api"),
		loop:      loop,
		orders:    orders,
		watchlist: watchlist,
		history:   history,
		rl:        rl,
	}
}

func (h *TradingEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.POST("/execute_trade", h.ExecuteTrade)
	g.POST("/start_trading", h.StartTrading)
	g.POST("/stop_trading", h.StopTrading)
	g.GET("/status", h.Status)
	g.GET("/decisions/:symbol", h.Decision)
	g.GET("/decisions/:symbol/history", h.History)
	g.GET("/watchlist", h.Watchlist)
}

func (h *TradingEchoHandler) allow(c echo.Context, route string) bool {
	if h.rl == nil {
		return true
	}
	if h.rl.Allow(c.RealIP() + ":" + route) {
		return true
	}
	h.logger.Warn("rate limited", xlogger.String("route", route), xlogger.String("remote", c.RealIP()))
	return false
}

// Analyze evaluates one symbol on demand. It never places orders.
func (h *TradingEchoHandler) Analyze(c echo.Context) error {
	if !h.allow(c, "analyze") {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_REQUIRED", "symbol", "symbol is required", http.StatusBadRequest))
	}

	d, err := h.loop.Analyze(c.Request().Context(), symbol)
	if err != nil {
		h.logger.Error("analyze failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		if errors.Is(err, domrepo.ErrDataUnavailable) {
			return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("no market data for %s", symbol).WithError(err))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError("analysis failed").WithError(err))
	}
	return xhttp.JSONResponse(c, http.StatusOK, d)
}

// ExecuteTrade places a manual market order.
func (h *TradingEchoHandler) ExecuteTrade(c echo.Context) error {
	if !h.allow(c, "execute_trade") {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.ExecuteTradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	start := time.Now()
	res, err := h.orders.Execute(c.Request().Context(), req.Symbol, models.OrderSide(req.Action), req.Quantity)
	if err != nil {
		h.logger.Error("manual order failed",
			xlogger.String("symbol", req.Symbol),
			xlogger.String("side", req.Action),
			xlogger.Int("quantity", req.Quantity),
			xlogger.Duration("took", time.Since(start)),
			xlogger.Error(err))
		var appErr *xhttp.AppError
		switch {
		case errors.Is(err, domrepo.ErrOrderRejected):
			appErr = xhttp.UnprocessableError("order rejected by broker")
		case errors.Is(err, domrepo.ErrNetwork):
			appErr = xhttp.BadGatewayError("broker unreachable")
		default:
			appErr = xhttp.InternalError("order failed")
		}
		appErr.WithError(err).WithParam("client_order_id", res.ClientOrderID)
		if res.Message != "" {
			appErr.WithParam("broker_message", res.Message)
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	h.logger.Info("manual order placed",
		xlogger.String("symbol", res.Symbol),
		xlogger.String("side", string(res.Side)),
		xlogger.String("broker_order_id", res.BrokerOrderID))
	return xhttp.JSONResponse(c, http.StatusOK, res)
}

func (h *TradingEchoHandler) StartTrading(c echo.Context) error {
	msg := "Automated trading started"
	if !h.loop.Start() {
		msg = "Automated trading is already running"
	}
	return xhttp.JSONResponse(c, http.StatusOK, models.ControlResponse{
		Success:       true,
		Message:       msg,
		TradingActive: h.loop.State() == models.StateRunning,
	})
}

func (h *TradingEchoHandler) StopTrading(c echo.Context) error {
	msg := "Automated trading stopping"
	if !h.loop.Stop() {
		msg = "Automated trading is not running"
	}
	return xhttp.JSONResponse(c, http.StatusOK, models.ControlResponse{
		Success:       true,
		Message:       msg,
		TradingActive: h.loop.State() == models.StateRunning,
	})
}

func (h *TradingEchoHandler) Status(c echo.Context) error {
	cache := h.loop.Decisions()
	state := h.loop.State()
	return xhttp.JSONResponse(c, http.StatusOK, models.StatusResponse{
		TradingActive:       state == models.StateRunning,
		State:               state,
		AnalyzedStocksCount: cache.Len(),
		Decisions:           cache.Snapshot(),
	})
}

// Decision returns the cached decision of one symbol. After a restart the
// cache is empty, so a miss falls back to the mirrored copy.
func (h *TradingEchoHandler) Decision(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	d, ok := h.loop.Decisions().Get(symbol)
	if !ok && h.history != nil {
		m, err := h.history.Mirrored(c.Request().Context(), symbol)
		if err == nil {
			d, ok = m, true
		} else if !errors.Is(err, domrepo.ErrNotFound) {
			h.logger.Warn("mirrored decision", xlogger.String("symbol", symbol), xlogger.Error(err))
		}
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no decision for %s", symbol))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.JSONResponse(c, http.StatusOK, d)
}

// History lists the most recent journaled decisions, oldest first. ?limit
// defaults to 20.
func (h *TradingEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("decision history is not enabled"))
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("limit must be between 1 and 500").WithParam("limit", v))
		}
		limit = n
	}
	evs, err := h.history.Recent(c.Request().Context(), symbol, limit)
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("decision history is not enabled"))
	}
	if err != nil {
		h.logger.Error("decision history", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history unavailable").WithError(err))
	}
	if evs == nil {
		evs = []models.DecisionEvent{}
	}
	return xhttp.SuccessResponse(c, evs)
}

func (h *TradingEchoHandler) Watchlist(c echo.Context) error {
	symbols, err := h.watchlist.List(c.Request().Context())
	if err != nil {
		h.logger.Error("watchlist", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("watchlist unavailable").WithError(err))
	}
	return xhttp.JSONResponse(c, http.StatusOK, map[string][]string{"symbols": symbols})
}

var _ xhttp.Handler = (*TradingEchoHandler)(nil)
