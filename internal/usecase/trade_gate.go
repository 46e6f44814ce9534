package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/pkg/cache"
	"TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"
)

type RepeatPolicy string

const (
	// RepeatEveryTick submits an order on every tick that crosses a threshold.
	RepeatEveryTick RepeatPolicy = "every_tick"
	// RepeatCooldown allows one order per (symbol, side) per cooldown window.
	RepeatCooldown RepeatPolicy = "cooldown"
)

type TradeGateConfig struct {
	Enabled       bool
	HighThreshold float64
	LowThreshold  float64
	Quantity      int
	Policy        RepeatPolicy
	Cooldown      time.Duration
	OrderTimeout  time.Duration
}

// TradeGate turns strong decisions into market orders.
type TradeGate struct {
	cfg     TradeGateConfig
	orders  domrepo.OrderGateway
	locks   cache.Service
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewTradeGate validates the policy. locks is only required for the
// cooldown policy.
func NewTradeGate(cfg TradeGateConfig, orders domrepo.OrderGateway, locks cache.Service, metrics domrepo.Metrics, log *logger.Logger) (*TradeGate, error) {
	if cfg.Quantity < 1 {
		cfg.Quantity = 1
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if cfg.Enabled {
		if orders == nil {
			return nil, errors.New("trade gate: order gateway is required")
		}
		if cfg.LowThreshold >= cfg.HighThreshold {
			return nil, fmt.Errorf("trade gate: low threshold %v must be below high threshold %v", cfg.LowThreshold, cfg.HighThreshold)
		}
		switch cfg.Policy {
		case RepeatEveryTick:
		case RepeatCooldown:
			if cfg.Cooldown <= 0 {
				return nil, errors.New("trade gate: cooldown policy requires a positive cooldown")
			}
			if locks == nil {
				return nil, errors.New("trade gate: cooldown policy requires a cache service")
			}
		default:
			return nil, fmt.Errorf("trade gate: unknown repeat policy %q", cfg.Policy)
		}
	}
	return &TradeGate{cfg: cfg, orders: orders, locks: locks, metrics: metrics, log: log, now: time.Now}, nil
}

// Enabled reports whether automated orders are submitted.
func (g *TradeGate) Enabled() bool { return g.cfg.Enabled }

// Side picks the order side for score: BUY above the high threshold, SELL
// below the low threshold.
func (g *TradeGate) Side(score float64) (models.OrderSide, bool) {
	switch {
	case score > g.cfg.HighThreshold:
		return models.SideBuy, true
	case score < g.cfg.LowThreshold:
		return models.SideSell, true
	}
	return "", false
}

// Apply submits an order for d when the gate is open. It returns nil when no
// order was attempted. Order failures are logged and returned as a FAILED
// result; they are never retried.
func (g *TradeGate) Apply(ctx context.Context, d models.AggregatedDecision) *models.OrderResult {
	if !g.cfg.Enabled {
		return nil
	}
	side, ok := g.Side(d.Score)
	if !ok {
		return nil
	}

	lockKey := ""
	if g.cfg.Policy == RepeatCooldown {
		lockKey = cache.Key("gate", strings.ToUpper(d.Symbol), string(side))
		acquired, err := g.locks.TryLock(ctx, lockKey, g.cfg.Cooldown)
		if err != nil {
			g.log.Warn("cooldown lock failed, skipping order",
				logger.String("symbol", d.Symbol), logger.String("side", string(side)), logger.Error(err))
			g.metrics.RecordError("gate_lock")
			return nil
		}
		if !acquired {
			g.log.Debug("order suppressed by cooldown",
				logger.String("symbol", d.Symbol), logger.String("side", string(side)))
			return nil
		}
	}

	req := models.OrderRequest{
		Symbol:        d.Symbol,
		Side:          side,
		Quantity:      g.cfg.Quantity,
		ClientOrderID: util.NewID(),
	}
	res, err := g.place(ctx, req)
	if err != nil || res.Status != models.OrderStatusSuccess {
		if lockKey != "" {
			if uerr := g.locks.Unlock(context.WithoutCancel(ctx), lockKey); uerr != nil {
				g.log.Warn("release cooldown lock", logger.String("key", lockKey), logger.Error(uerr))
			}
		}
		g.log.Error("automated order failed",
			logger.String("symbol", req.Symbol),
			logger.String("side", string(side)),
			logger.Float64("score", d.Score),
			logger.String("client_order_id", req.ClientOrderID),
			logger.String("message", res.Message),
			logger.Error(err))
		return &res
	}

	g.log.Info("automated order placed",
		logger.String("symbol", req.Symbol),
		logger.String("side", string(side)),
		logger.Float64("score", d.Score),
		logger.String("broker_order_id", res.BrokerOrderID))
	return &res
}

// Execute places a manual order. It bypasses thresholds and cooldown.
func (g *TradeGate) Execute(ctx context.Context, symbol string, side models.OrderSide, quantity int) (models.OrderResult, error) {
	if g.orders == nil {
		return models.OrderResult{}, fmt.Errorf("%w: no order gateway configured", domrepo.ErrNetwork)
	}
	req := models.OrderRequest{
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		Side:          side,
		Quantity:      quantity,
		ClientOrderID: util.NewID(),
	}
	return g.place(ctx, req)
}

func (g *TradeGate) place(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	octx, cancel := context.WithTimeout(ctx, g.cfg.OrderTimeout)
	defer cancel()

	start := time.Now()
	res, err := g.orders.PlaceOrder(octx, req)
	g.metrics.RecordLatency("place_order", time.Since(start).Seconds())
	if err != nil {
		if res.Status == "" {
			res = models.FailedOrder(req, err.Error(), g.now())
		}
		if !errors.Is(err, domrepo.ErrOrderRejected) && !errors.Is(err, domrepo.ErrNetwork) {
			err = fmt.Errorf("%w: %v", domrepo.ErrNetwork, err)
		}
		g.metrics.RecordOrder(string(req.Side), string(models.OrderStatusFailed))
		return res, err
	}
	g.metrics.RecordOrder(string(req.Side), string(res.Status))
	return res, nil
}
