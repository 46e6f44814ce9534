package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	drepo "TradeLoop/internal/domain/repository"
	xhttp "TradeLoop/pkg/http"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"
)

// RESTConfig holds the generic JSON broker settings.
type RESTConfig struct {
	BaseURL     string
	APIKey      string
	ClientCode  string
	Exchange    string
	Interval    string
	ProductType string
}

// REST is a broker gateway speaking a SmartAPI-like JSON protocol: every
// response is an envelope {status, message, data}.
type REST struct {
	cfg    RESTConfig
	client *xhttp.Client
	logger *applogger.Logger
	now    func() time.Time
}

func NewREST(cfg RESTConfig, client *xhttp.Client, l *applogger.Logger) *REST {
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	if cfg.Interval == "" {
		cfg.Interval = "ONE_DAY"
	}
	if cfg.ProductType == "" {
		cfg.ProductType = "INTRADAY"
	}
	if l == nil {
		l = applogger.Nop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &REST{cfg: cfg, client: client, logger: l.With("broker.rest"), now: time.Now}
}

type envelope[T any] struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      T      `json:"data"`
}

func (b *REST) headers() map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if b.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + b.cfg.APIKey
	}
	if b.cfg.ClientCode != "" {
		h["X-Client-Code"] = b.cfg.ClientCode
	}
	return h
}

func (b *REST) do(ctx context.Context, method, path string, query url.Values, body interface{}, dest interface{}) error {
	return b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         b.cfg.BaseURL + path,
		Headers:     b.headers(),
		QueryParams: query,
		Body:        body,
	}, dest)
}

type candleRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"tradingsymbol"`
	Interval string `json:"interval"`
	From     string `json:"fromdate"`
	To       string `json:"todate"`
}

// Fetch returns up to lookback daily bars ending now.
func (b *REST) Fetch(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	now := b.now()
	req := candleRequest{
		Exchange: b.cfg.Exchange,
		Symbol:   symbol,
		Interval: b.cfg.Interval,
		// weekends and holidays eat into the window, over-fetch and trim
		From: util.TradingDaysBack(now, lookback+lookback/5+5).Format("2006-01-02 15:04"),
		To:   now.Format("2006-01-02 15:04"),
	}
	var resp envelope[[][]interface{}]
	if err := b.do(ctx, xhttp.MethodPost, "/candles", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: candles %s: %v", drepo.ErrDataUnavailable, symbol, err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: candles %s: %s", drepo.ErrDataUnavailable, symbol, resp.Message)
	}

	series := make(models.PriceSeries, 0, len(resp.Data))
	for i, row := range resp.Data {
		bar, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("%w: candles %s row %d: %v", drepo.ErrDataUnavailable, symbol, i, err)
		}
		series = append(series, bar)
	}
	series = series.Tail(lookback)
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: candles %s: %v", drepo.ErrDataUnavailable, symbol, err)
	}
	return series, nil
}

// parseCandle reads [timestamp, open, high, low, close, volume].
func parseCandle(row []interface{}) (models.PriceBar, error) {
	if len(row) < 6 {
		return models.PriceBar{}, fmt.Errorf("expected 6 columns, got %d", len(row))
	}
	var ts time.Time
	switch v := row[0].(type) {
	case string:
		t, ok := util.ParseTime(v)
		if !ok {
			return models.PriceBar{}, fmt.Errorf("bad timestamp %q", v)
		}
		ts = t
	case float64:
		t, _ := util.ParseTime(strconv.FormatInt(int64(v), 10))
		ts = t
	default:
		return models.PriceBar{}, fmt.Errorf("bad timestamp %v", row[0])
	}

	vals := make([]float64, 5)
	for i := range vals {
		f, err := number(row[i+1])
		if err != nil {
			return models.PriceBar{}, err
		}
		vals[i] = f
	}
	return models.PriceBar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

func number(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

type ltpRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"tradingsymbol"`
}

func (b *REST) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var resp envelope[struct {
		LTP float64 `json:"ltp"`
	}]
	if err := b.do(ctx, xhttp.MethodPost, "/ltp", nil, ltpRequest{Exchange: b.cfg.Exchange, Symbol: symbol}, &resp); err != nil {
		return 0, fmt.Errorf("%w: ltp %s: %v", drepo.ErrDataUnavailable, symbol, err)
	}
	if !resp.Status || resp.Data.LTP <= 0 {
		return 0, fmt.Errorf("%w: ltp %s: %s", drepo.ErrDataUnavailable, symbol, resp.Message)
	}
	return resp.Data.LTP, nil
}

type chainRow struct {
	Strike float64 `json:"strike"`
	Type   string  `json:"type"` // CE or PE
	Expiry string  `json:"expiry"`
	IV     float64 `json:"iv"`
	Volume float64 `json:"volume"`
	OI     float64 `json:"oi"`
}

// OptionChain folds the broker's per-leg rows into one contract per strike.
func (b *REST) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	var resp envelope[[]chainRow]
	q := url.Values{"symbol": {symbol}, "exchange": {"NFO"}}
	if err := b.do(ctx, xhttp.MethodGet, "/option-chain", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: option chain %s: %v", drepo.ErrDataUnavailable, symbol, err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: option chain %s: %s", drepo.ErrDataUnavailable, symbol, resp.Message)
	}
	return foldChain(symbol, resp.Data), nil
}

func foldChain(symbol string, rows []chainRow) *models.OptionChain {
	chain := &models.OptionChain{Symbol: symbol}
	index := make(map[float64]int)
	for _, r := range rows {
		if chain.Expiry.IsZero() {
			chain.Expiry, _ = util.ParseTime(r.Expiry)
		}
		i, ok := index[r.Strike]
		if !ok {
			i = len(chain.Contracts)
			index[r.Strike] = i
			chain.Contracts = append(chain.Contracts, models.OptionContract{Strike: r.Strike})
		}
		c := &chain.Contracts[i]
		switch strings.ToUpper(r.Type) {
		case "CE", "CALL":
			c.CallOI, c.CallIV, c.CallVolume = r.OI, normalizeIV(r.IV), r.Volume
		case "PE", "PUT":
			c.PutOI, c.PutIV, c.PutVolume = r.OI, normalizeIV(r.IV), r.Volume
		}
	}
	return chain
}

// normalizeIV accepts 35 or 0.35 for 35%.
func normalizeIV(iv float64) float64 {
	if iv > 1 {
		return iv / 100
	}
	return iv
}

type orderRequest struct {
	Variety         string `json:"variety"`
	Symbol          string `json:"tradingsymbol"`
	TransactionType string `json:"transactiontype"`
	Exchange        string `json:"exchange"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Duration        string `json:"duration"`
	Quantity        int    `json:"quantity"`
	ClientOrderID   string `json:"ordertag,omitempty"`
}

// PlaceOrder submits a market order. A 4xx or a {status:false} envelope is a
// rejection; transport failures and 5xx are network errors.
func (b *REST) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	body := orderRequest{
		Variety:         "NORMAL",
		Symbol:          req.Symbol,
		TransactionType: string(req.Side),
		Exchange:        b.cfg.Exchange,
		OrderType:       "MARKET",
		ProductType:     b.cfg.ProductType,
		Duration:        "DAY",
		Quantity:        req.Quantity,
		ClientOrderID:   req.ClientOrderID,
	}
	var resp envelope[struct {
		OrderID string `json:"orderid"`
	}]
	err := b.do(ctx, xhttp.MethodPost, "/orders", nil, body, &resp)
	at := b.now()
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.ClientError() {
			return models.FailedOrder(req, se.Body, at), fmt.Errorf("%w: %s", drepo.ErrOrderRejected, se.Body)
		}
		return models.FailedOrder(req, err.Error(), at), fmt.Errorf("%w: place order: %v", drepo.ErrNetwork, err)
	}
	if !resp.Status {
		return models.FailedOrder(req, resp.Message, at), fmt.Errorf("%w: %s", drepo.ErrOrderRejected, resp.Message)
	}

	b.logger.Info("order placed",
		applogger.String("symbol", req.Symbol),
		applogger.String("side", string(req.Side)),
		applogger.Int("quantity", req.Quantity),
		applogger.String("order_id", resp.Data.OrderID))

	return models.OrderResult{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
		Status:        models.OrderStatusSuccess,
		BrokerOrderID: resp.Data.OrderID,
		PlacedAt:      at,
	}, nil
}

// List returns the account watchlist.
func (b *REST) List(ctx context.Context) ([]string, error) {
	var resp envelope[[]string]
	if err := b.do(ctx, xhttp.MethodGet, "/watchlist", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("watchlist: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("watchlist: %s", resp.Message)
	}
	return resp.Data, nil
}

var (
	_ drepo.PriceSeriesProvider = (*REST)(nil)
	_ drepo.LastPriceProvider   = (*REST)(nil)
	_ drepo.OptionChainProvider = (*REST)(nil)
	_ drepo.OrderGateway        = (*REST)(nil)
	_ drepo.WatchlistProvider   = (*REST)(nil)
)
