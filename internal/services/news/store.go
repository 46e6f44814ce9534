package news

import (
	"context"
	"sort"
	"strings"
	"sync"

	"TradeLoop/internal/domain/models"
)

// ArticleStore keeps the most recent articles per symbol in memory. It is
// fed by the Kafka news consumer and serves as the NewsSource.
type ArticleStore struct {
	mu    sync.RWMutex
	bySym map[string][]models.Article
	size  int
}

func NewArticleStore(size int) *ArticleStore {
	if size <= 0 {
		size = 50
	}
	return &ArticleStore{bySym: make(map[string][]models.Article), size: size}
}

// Add records an article, keeping at most size per symbol, newest first.
// Duplicates (same URL, or same title when URL is empty) are ignored.
func (s *ArticleStore) Add(a models.Article) bool {
	sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
	if sym == "" {
		return false
	}
	a.Symbol = sym

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bySym[sym]
	for _, cur := range list {
		if (a.URL != "" && cur.URL == a.URL) || (a.URL == "" && cur.Title == a.Title) {
			return false
		}
	}
	list = append(list, a)
	sort.SliceStable(list, func(i, j int) bool { return list[i].PublishedAt.After(list[j].PublishedAt) })
	if len(list) > s.size {
		list = list[:s.size]
	}
	s.bySym[sym] = list
	return true
}

func (s *ArticleStore) Articles(_ context.Context, symbol string) ([]models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.bySym[strings.ToUpper(symbol)]
	out := make([]models.Article, len(list))
	copy(out, list)
	return out, nil
}

func (s *ArticleStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySym[strings.ToUpper(symbol)])
}
