package quotes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	drepo "TradeLoop/internal/domain/repository"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticList []string

func (l staticList) List(context.Context) ([]string, error) { return l, nil }

type fixedPrice float64

func (f fixedPrice) LastPrice(context.Context, string) (float64, error) { return float64(f), nil }

func TestStreamServesStreamedPrices(t *testing.T) {
	var mu sync.Mutex
	var subs []string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for i := 0; i < 2; i++ {
			var m map[string]string
			if err := c.ReadJSON(&m); err != nil {
				return
			}
			mu.Lock()
			subs = append(subs, m["symbol"])
			mu.Unlock()
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"infy","p":1510.5,"v":10,"t":0},{"s":"TCS","p":0}]}`))
		// hold the connection until the client goes away
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewStream(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:         "secret",
		ReconnectDelay: 10 * time.Millisecond,
		MaxAge:         time.Minute,
	}, staticList{"INFY", "TCS"}, fixedPrice(99), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		p, _ := s.LastPrice(context.Background(), "INFY")
		return p == 1510.5
	}, 2*time.Second, 10*time.Millisecond)

	// zero prices are ignored, so TCS comes from the fallback
	p, err := s.LastPrice(context.Background(), "TCS")
	require.NoError(t, err)
	assert.Equal(t, 99.0, p)

	mu.Lock()
	assert.Equal(t, []string{"INFY", "TCS"}, subs)
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.False(t, s.IsConnected())
}

func TestStreamStaleQuoteFallsBack(t *testing.T) {
	now := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	s := NewStream(Config{MaxAge: time.Minute}, staticList{}, nil, nil)
	s.now = func() time.Time { return now }

	s.update(trade{S: "SBIN", P: 600, T: now.Add(-2 * time.Minute).UnixMilli()})
	_, err := s.LastPrice(context.Background(), "SBIN")
	assert.ErrorIs(t, err, drepo.ErrDataUnavailable)

	s.update(trade{S: "SBIN", P: 610, T: now.UnixMilli()})
	s.update(trade{S: "SBIN", P: 590, T: now.Add(-time.Second).UnixMilli()})
	p, err := s.LastPrice(context.Background(), "sbin")
	require.NoError(t, err)
	assert.Equal(t, 610.0, p)
}
