package broker

import (
	"context"
	"strings"

	drepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"
)

// Watchlist prefers configured symbols, then the broker's list, then
// DefaultWatchlist. Symbols are upper-cased and de-duplicated, order kept.
type Watchlist struct {
	static   []string
	upstream drepo.WatchlistProvider
	logger   *applogger.Logger
}

func NewWatchlist(static []string, upstream drepo.WatchlistProvider, l *applogger.Logger) *Watchlist {
	if l == nil {
		l = applogger.Nop()
	}
	return &Watchlist{static: static, upstream: upstream, logger: l.With("watchlist")}
}

func (w *Watchlist) List(ctx context.Context) ([]string, error) {
	if len(w.static) > 0 {
		return dedupe(w.static), nil
	}
	if w.upstream != nil {
		syms, err := w.upstream.List(ctx)
		if err == nil && len(syms) > 0 {
			return dedupe(syms), nil
		}
		if err != nil {
			w.logger.Warn("broker watchlist unavailable, using default", applogger.Error(err))
		}
	}
	return dedupe(DefaultWatchlist), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

var _ drepo.WatchlistProvider = (*Watchlist)(nil)
