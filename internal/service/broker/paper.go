package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	drepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"
)

// DefaultWatchlist is used when neither config nor broker supplies one.
var DefaultWatchlist = []string{
	"RELIANCE", "INFY", "TCS", "HDFCBANK", "ICICIBANK",
	"SBIN", "TATAMOTORS", "WIPRO", "AXISBANK", "BAJFINANCE",
}

// Paper simulates a broker. Prices are a random walk seeded per symbol, so
// the same symbol always yields the same history for a given day. Orders
// always fill.
type Paper struct {
	seed      int64
	watchlist []string
	logger    *applogger.Logger
	now       func() time.Time

	mu     sync.Mutex
	orders []models.OrderResult
}

func NewPaper(seed int64, watchlist []string, l *applogger.Logger) *Paper {
	if len(watchlist) == 0 {
		watchlist = DefaultWatchlist
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Paper{seed: seed, watchlist: watchlist, logger: l.With("broker.paper"), now: time.Now}
}

func (p *Paper) rng(symbol string, salt int64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return rand.New(rand.NewSource(int64(h.Sum64()) ^ p.seed ^ salt))
}

// Fetch generates lookback daily bars ending today.
func (p *Paper) Fetch(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", drepo.ErrDataUnavailable, err)
	}
	if lookback <= 0 {
		return nil, fmt.Errorf("%w: lookback must be positive", drepo.ErrDataUnavailable)
	}
	n := lookback
	if n < walkLength {
		n = walkLength
	}
	return p.walk(symbol, n).Tail(lookback), nil
}

// walkLength anchors every walk at the same starting bar so that series of
// different lengths agree on their common bars.
const walkLength = 250

func (p *Paper) walk(symbol string, n int) models.PriceSeries {
	r := p.rng(symbol, 0)
	end := p.now().UTC().Truncate(24 * time.Hour)
	price := 100 + r.Float64()*900

	out := make(models.PriceSeries, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			price *= 1 + r.NormFloat64()*0.02 + 0.001
			price = math.Max(price, 1)
		}
		open := price * (1 + r.NormFloat64()*0.01)
		high := math.Max(open, price) * (1 + math.Abs(r.NormFloat64()*0.01))
		low := math.Min(open, price) * (1 - math.Abs(r.NormFloat64()*0.01))
		out[i] = models.PriceBar{
			Time:   end.AddDate(0, 0, i-n+1),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: float64(10000 + r.Intn(990000)),
		}
	}
	return out
}

// LastPrice is the latest close of the simulated walk.
func (p *Paper) LastPrice(_ context.Context, symbol string) (float64, error) {
	s := p.walk(symbol, walkLength)
	return math.Round(s.Last().Close*100) / 100, nil
}

// OptionChain builds 21 strikes 2.5% apart around spot.
func (p *Paper) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	spot, err := p.LastPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	r := p.rng(symbol, p.now().UTC().Truncate(24*time.Hour).Unix())
	chain := &models.OptionChain{Symbol: symbol, Expiry: p.now().UTC().AddDate(0, 0, 30).Truncate(24 * time.Hour)}
	for i := -10; i <= 10; i++ {
		strike := math.Round(spot*(1+float64(i)*0.025)*10) / 10
		chain.Contracts = append(chain.Contracts, models.OptionContract{
			Strike:     strike,
			CallOI:     float64(1000 + r.Intn(99000)),
			PutOI:      float64(1000 + r.Intn(99000)),
			CallIV:     0.2 + r.Float64()*0.4,
			PutIV:      0.2 + r.Float64()*0.4,
			CallVolume: float64(100 + r.Intn(9900)),
			PutVolume:  float64(100 + r.Intn(9900)),
		})
	}
	return chain, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	at := p.now()
	if err := ctx.Err(); err != nil {
		return models.FailedOrder(req, err.Error(), at), fmt.Errorf("%w: %v", drepo.ErrNetwork, err)
	}
	if req.Quantity < 1 {
		return models.FailedOrder(req, "quantity must be at least 1", at), fmt.Errorf("%w: quantity %d", drepo.ErrOrderRejected, req.Quantity)
	}
	res := models.OrderResult{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
		Status:        models.OrderStatusSuccess,
		BrokerOrderID: "PAPER-" + util.NewIDAt(at),
		Message:       fmt.Sprintf("paper %s order filled", req.Side),
		PlacedAt:      at,
	}

	p.mu.Lock()
	p.orders = append(p.orders, res)
	p.mu.Unlock()

	p.logger.Info("paper order filled",
		applogger.String("symbol", req.Symbol),
		applogger.String("side", string(req.Side)),
		applogger.Int("quantity", req.Quantity),
		applogger.String("order_id", res.BrokerOrderID))
	return res, nil
}

// Orders returns the fills so far.
func (p *Paper) Orders() []models.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderResult(nil), p.orders...)
}

func (p *Paper) List(context.Context) ([]string, error) {
	return append([]string(nil), p.watchlist...), nil
}

var (
	_ drepo.PriceSeriesProvider = (*Paper)(nil)
	_ drepo.LastPriceProvider   = (*Paper)(nil)
	_ drepo.OptionChainProvider = (*Paper)(nil)
	_ drepo.OrderGateway        = (*Paper)(nil)
	_ drepo.WatchlistProvider   = (*Paper)(nil)
)
