package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	drepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"

	"github.com/gorilla/websocket"
)

// Config for the trade stream.
type Config struct {
	URL            string
	APIKey         string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	// MaxAge bounds how old a streamed price may be before LastPrice falls back.
	MaxAge time.Duration
}

type quote struct {
	price float64
	at    time.Time
}

// Stream keeps the latest traded price per symbol from a websocket trade
// feed ({"type":"trade","data":[{"s","p","v","t"}]}) and serves it as a
// LastPriceProvider. Stale or missing quotes are served by the fallback.
type Stream struct {
	cfg      Config
	symbols  drepo.WatchlistProvider
	fallback drepo.LastPriceProvider
	logger   *applogger.Logger
	dialer   *websocket.Dialer
	now      func() time.Time

	mu     sync.RWMutex
	prices map[string]quote

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewStream(cfg Config, symbols drepo.WatchlistProvider, fallback drepo.LastPriceProvider, l *applogger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Stream{
		cfg:      cfg,
		symbols:  symbols,
		fallback: fallback,
		logger:   l.With("quotes"),
		dialer:   websocket.DefaultDialer,
		now:      time.Now,
		prices:   make(map[string]quote),
	}
}

// Run connects, subscribes and reads until ctx is done, reconnecting after
// ReconnectDelay on any failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		s.close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("quote stream disconnected",
			applogger.Error(err),
			applogger.Duration("retry_in", s.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.subscribe(ctx); err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("quote stream conn nil")
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(readCtx)
	go func() {
		// unblock ReadMessage on shutdown
		<-readCtx.Done()
		_ = conn.Close()
	}()
	return s.readLoop(readCtx, conn)
}

func (s *Stream) connect(ctx context.Context) error {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("quote stream url: %w", err)
	}
	if s.cfg.APIKey != "" {
		q := u.Query()
		q.Set("token", s.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("quote stream connect: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()
	s.logger.Info("quote stream connected")
	return nil
}

func (s *Stream) subscribe(ctx context.Context) error {
	syms, err := s.symbols.List(ctx)
	if err != nil {
		return fmt.Errorf("quote stream symbols: %w", err)
	}
	for _, sym := range syms {
		if err := s.write(func(c *websocket.Conn) error {
			return c.WriteJSON(map[string]string{"type": "subscribe", "symbol": sym})
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	s.logger.Info("quote stream subscribed", applogger.Int("symbols", len(syms)))
	return nil
}

func (s *Stream) write(fn func(*websocket.Conn) error) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return fn(s.conn)
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.write(func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.PingMessage, nil)
			})
		}
	}
}

type trade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type message struct {
	Type string  `json:"type"`
	Data []trade `json:"data"`
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("quote stream read: %w", err)
		}
		var m message
		if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
			// pings and status frames
			continue
		}
		for _, t := range m.Data {
			s.update(t)
		}
	}
}

func (s *Stream) update(t trade) {
	if t.S == "" || t.P <= 0 {
		return
	}
	at := s.now()
	if t.T > 0 {
		at = time.UnixMilli(t.T)
	}
	sym := strings.ToUpper(t.S)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.prices[sym]; ok && cur.at.After(at) {
		return
	}
	s.prices[sym] = quote{price: t.P, at: at}
}

func (s *Stream) close() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connected = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// LastPrice returns the streamed price when fresh, else asks the fallback.
func (s *Stream) LastPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	q, ok := s.prices[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if ok && (s.cfg.MaxAge <= 0 || s.now().Sub(q.at) <= s.cfg.MaxAge) {
		return q.price, nil
	}
	if s.fallback == nil {
		return 0, fmt.Errorf("%w: no quote for %s", drepo.ErrDataUnavailable, symbol)
	}
	return s.fallback.LastPrice(ctx, symbol)
}

var _ drepo.LastPriceProvider = (*Stream)(nil)
