package signals

import (
	"context"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/service"
)

// Guard wraps a producer so it can never escape its contract: panics are
// recovered, the call is bounded by timeout, the producer id is stamped and
// the signal invariants are re-applied. A producer that overruns its timeout
// keeps running in the background; its late result is discarded.
func Guard(id models.ProducerID, p service.SignalProducer, timeout time.Duration) service.SignalProducer {
	return &guarded{id: id, inner: p, timeout: timeout}
}

type guarded struct {
	id      models.ProducerID
	inner   service.SignalProducer
	timeout time.Duration
}

func (g *guarded) Evaluate(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal {
	if g.inner == nil {
		return models.DegradedSignal(g.id, "producer not configured")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan models.Signal, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.DegradedSignal(g.id, fmt.Sprintf("panic: %v", r))
			}
		}()
		done <- g.inner.Evaluate(ctx, symbol, series, mctx)
	}()

	var s models.Signal
	select {
	case s = <-done:
	case <-ctx.Done():
		s = models.DegradedSignal(g.id, fmt.Sprintf("timed out: %v", ctx.Err()))
	}
	s.Producer = g.id
	return s.Normalize()
}

// ID returns the producer id of a guarded producer.
func ID(p service.SignalProducer) (models.ProducerID, bool) {
	g, ok := p.(*guarded)
	if !ok {
		return "", false
	}
	return g.id, true
}

func degradef(id models.ProducerID, format string, args ...any) models.Signal {
	return models.DegradedSignal(id, fmt.Sprintf(format, args...))
}
