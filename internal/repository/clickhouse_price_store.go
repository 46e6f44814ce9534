package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	pkgch "TradeLoop/pkg/clickhouse"
	applogger "TradeLoop/pkg/logger"
)

// CHPriceStore serves daily candles from ClickHouse.
type CHPriceStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHPriceStore(ch *pkgch.Client, table string) *CHPriceStore {
	return &CHPriceStore{db: ch.DB(), table: table, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHPriceStore) SetLogger(l *applogger.Logger) { s.l = l.With("price_store") }

// Fetch returns the latest lookback candles in ascending order.
func (s *CHPriceStore) Fetch(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	start := time.Now()
	const qtpl = `
        SELECT bucket, open, high, low, close, vol
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol, lookback)
	if err != nil {
		s.l.Error("clickhouse latest_candles query error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Int("limit", lookback),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("%w: latest candles %s: %v", domrepo.ErrDataUnavailable, symbol, err)
	}
	defer rows.Close()

	tmp := make(models.PriceSeries, 0, lookback)
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("%w: scan candle: %v", domrepo.ErrDataUnavailable, err)
		}
		tmp = append(tmp, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domrepo.ErrDataUnavailable, err)
	}

	series := reverseBars(tmp)
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domrepo.ErrDataUnavailable, symbol, err)
	}
	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(series)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return series, nil
}

// reverseBars flips a DESC result to ascending order in place.
func reverseBars(s models.PriceSeries) models.PriceSeries {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return s
}

// LastPrice is the latest stored close.
func (s *CHPriceStore) LastPrice(ctx context.Context, symbol string) (float64, error) {
	q := fmt.Sprintf("SELECT close FROM %s WHERE symbol = ? ORDER BY bucket DESC LIMIT 1", s.table)
	var px float64
	if err := s.db.QueryRowContext(ctx, q, symbol).Scan(&px); err != nil {
		return 0, fmt.Errorf("%w: last price %s: %v", domrepo.ErrDataUnavailable, symbol, err)
	}
	return px, nil
}

var (
	_ domrepo.PriceSeriesProvider = (*CHPriceStore)(nil)
	_ domrepo.LastPriceProvider   = (*CHPriceStore)(nil)
)
