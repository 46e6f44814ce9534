package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"
	drepo "TradeLoop/internal/domain/repository"
	xhttp "TradeLoop/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newREST(t *testing.T, h http.HandlerFunc) *REST {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b := NewREST(RESTConfig{BaseURL: srv.URL + "/", APIKey: "k", ClientCode: "C1"}, xhttp.NewClient(xhttp.WithTimeout(time.Second)), nil)
	b.now = func() time.Time { return time.Date(2024, 3, 8, 15, 30, 0, 0, time.UTC) }
	return b
}

func TestRESTFetch(t *testing.T) {
	b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/candles", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "C1", r.Header.Get("X-Client-Code"))

		var req candleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "NSE", req.Exchange)
		assert.Equal(t, "ONE_DAY", req.Interval)
		assert.Equal(t, "2024-03-08 15:30", req.To)

		_, _ = w.Write([]byte(`{"status": true, "data": [
			["2024-03-06T00:00:00+05:30", 100, 102, 99, 101, 5000],
			["2024-03-07T00:00:00+05:30", 101, 104, 100, 103, 6000],
			["2024-03-08T00:00:00+05:30", "103", "105", "102", "104.5", "7000"]
		]}`))
	})

	s, err := b.Fetch(context.Background(), "INFY", 2)
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, 104.5, s.Last().Close)
	assert.Equal(t, 7000.0, s.Last().Volume)
}

func TestRESTFetchErrorsAreDataUnavailable(t *testing.T) {
	b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": true, "data": [
			["2024-03-07", 101, 104, 100, 103, 6000],
			["2024-03-06", 100, 102, 99, 101, 5000]
		]}`))
	})
	_, err := b.Fetch(context.Background(), "INFY", 10)
	assert.ErrorIs(t, err, drepo.ErrDataUnavailable)

	b = newREST(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid token"}`))
	})
	_, err = b.Fetch(context.Background(), "INFY", 10)
	assert.ErrorIs(t, err, drepo.ErrDataUnavailable)
	assert.ErrorContains(t, err, "Invalid token")
}

func TestRESTPlaceOrder(t *testing.T) {
	req := models.OrderRequest{Symbol: "TCS", Side: models.SideBuy, Quantity: 3, ClientOrderID: "c-1"}

	t.Run("success", func(t *testing.T) {
		b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
			var body orderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "MARKET", body.OrderType)
			assert.Equal(t, "INTRADAY", body.ProductType)
			assert.Equal(t, "BUY", body.TransactionType)
			assert.Equal(t, 3, body.Quantity)
			_, _ = w.Write([]byte(`{"status": true, "data": {"orderid": "B-77"}}`))
		})
		res, err := b.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusSuccess, res.Status)
		assert.Equal(t, "B-77", res.BrokerOrderID)
		assert.Equal(t, "c-1", res.ClientOrderID)
	})

	t.Run("rejected envelope", func(t *testing.T) {
		b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": false, "message": "insufficient margin"}`))
		})
		res, err := b.PlaceOrder(context.Background(), req)
		assert.ErrorIs(t, err, drepo.ErrOrderRejected)
		assert.Equal(t, models.OrderStatusFailed, res.Status)
		assert.Equal(t, "insufficient margin", res.Message)
	})

	t.Run("4xx is a rejection", func(t *testing.T) {
		b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad symbol", http.StatusBadRequest)
		})
		_, err := b.PlaceOrder(context.Background(), req)
		assert.ErrorIs(t, err, drepo.ErrOrderRejected)
	})

	t.Run("5xx is a network error", func(t *testing.T) {
		b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := b.PlaceOrder(context.Background(), req)
		assert.ErrorIs(t, err, drepo.ErrNetwork)
		assert.False(t, errors.Is(err, drepo.ErrOrderRejected))
	})
}

func TestRESTOptionChainFoldsLegs(t *testing.T) {
	b := newREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "INFY", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"status": true, "data": [
			{"strike": 1500, "type": "CE", "expiry": "2024-03-28", "iv": 25, "oi": 1000, "volume": 10},
			{"strike": 1500, "type": "PE", "expiry": "2024-03-28", "iv": 0.3, "oi": 800, "volume": 5},
			{"strike": 1550, "type": "CE", "expiry": "2024-03-28", "iv": 22, "oi": 400, "volume": 3}
		]}`))
	})
	c, err := b.OptionChain(context.Background(), "INFY")
	require.NoError(t, err)
	require.Len(t, c.Contracts, 2)
	assert.Equal(t, 0.25, c.Contracts[0].CallIV)
	assert.Equal(t, 0.3, c.Contracts[0].PutIV)
	assert.Equal(t, 800.0, c.Contracts[0].PutOI)
	assert.Equal(t, 2024, c.Expiry.Year())
}

func TestPaperIsDeterministic(t *testing.T) {
	p := NewPaper(42, nil, nil)
	fixed := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	ctx := context.Background()

	a, err := p.Fetch(ctx, "INFY", 100)
	require.NoError(t, err)
	b, err := p.Fetch(ctx, "INFY", 100)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.NoError(t, a.Validate())
	assert.Len(t, a, 100)

	c, err := p.Fetch(ctx, "TCS", 100)
	require.NoError(t, err)
	assert.NotEqual(t, a.Last().Close, c.Last().Close)

	chain, err := p.OptionChain(ctx, "INFY")
	require.NoError(t, err)
	assert.Len(t, chain.Contracts, 21)

	list, err := p.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchlist, list)
}

func TestPaperOrders(t *testing.T) {
	p := NewPaper(1, nil, nil)
	res, err := p.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "SBIN", Side: models.SideSell, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSuccess, res.Status)
	assert.Contains(t, res.BrokerOrderID, "PAPER-")
	assert.Len(t, p.Orders(), 1)

	_, err = p.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "SBIN", Side: models.SideSell})
	assert.ErrorIs(t, err, drepo.ErrOrderRejected)
}

type failingList struct{}

func (failingList) List(context.Context) ([]string, error) { return nil, errors.New("down") }

func TestWatchlist(t *testing.T) {
	ctx := context.Background()

	got, err := NewWatchlist([]string{"infy", "TCS", " INFY ", ""}, failingList{}, nil).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"INFY", "TCS"}, got)

	got, err = NewWatchlist(nil, failingList{}, nil).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchlist, got)

	got, err = NewWatchlist(nil, NewPaper(0, []string{"A", "B"}, nil), nil).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestPaperLastPriceMatchesSeries(t *testing.T) {
	p := NewPaper(7, nil, nil)
	fixed := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	s, err := p.Fetch(context.Background(), "WIPRO", 30)
	require.NoError(t, err)
	ltp, err := p.LastPrice(context.Background(), "WIPRO")
	require.NoError(t, err)
	assert.InDelta(t, s.Last().Close, ltp, 0.006)
}
