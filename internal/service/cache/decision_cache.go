package cache

import (
	"sort"
	"sync"

	"TradeLoop/internal/domain/models"
)

// DecisionCache holds the latest decision per symbol. It is written by the
// scheduler and read by HTTP handlers; every value crossing its boundary is
// a deep copy, so readers never share memory with a later Set.
type DecisionCache struct {
	mu sync.RWMutex
	m  map[string]models.AggregatedDecision
}

func NewDecisionCache() *DecisionCache {
	return &DecisionCache{m: make(map[string]models.AggregatedDecision)}
}

// Set replaces the entry for symbol.
func (c *DecisionCache) Set(symbol string, d models.AggregatedDecision) {
	d = d.Clone()
	c.mu.Lock()
	c.m[symbol] = d
	c.mu.Unlock()
}

func (c *DecisionCache) Get(symbol string) (models.AggregatedDecision, bool) {
	c.mu.RLock()
	d, ok := c.m[symbol]
	c.mu.RUnlock()
	if !ok {
		return models.AggregatedDecision{}, false
	}
	return d.Clone(), true
}

// Snapshot returns an independent copy of every entry.
func (c *DecisionCache) Snapshot() map[string]models.AggregatedDecision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.AggregatedDecision, len(c.m))
	for k, d := range c.m {
		out[k] = d.Clone()
	}
	return out
}

// Symbols lists cached symbols in sorted order.
func (c *DecisionCache) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.m))
	for k := range c.m {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
