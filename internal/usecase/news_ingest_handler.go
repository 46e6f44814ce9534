package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	pkgkafka "TradeLoop/pkg/kafka"
	"TradeLoop/pkg/util"
)

// ArticleSink receives ingested articles.
type ArticleSink interface {
	Add(a models.Article) bool
}

// NewsIngestHandler consumes news messages from Kafka and feeds the article
// store used by the news sentiment producer.
type NewsIngestHandler struct {
	topic   string
	sink    ArticleSink
	metrics domrepo.Metrics
}

func NewNewsIngestHandler(topic string, sink ArticleSink, metrics domrepo.Metrics) *NewsIngestHandler {
	return &NewsIngestHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *NewsIngestHandler) Topic() string { return h.topic }

// incoming message schema: {symbol | symbols[], title, description, content,
// source, url, published_at (RFC3339 or unix seconds/ms)}
type newsMessage struct {
	Symbol      string          `json:"symbol"`
	Symbols     []string        `json:"symbols"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Content     string          `json:"content"`
	Source      string          `json:"source"`
	URL         string          `json:"url"`
	PublishedAt json.RawMessage `json:"published_at"`
}

func (h *NewsIngestHandler) Handle(ctx context.Context, b []byte) error {
	var m newsMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("news_unmarshal")
		return err
	}
	if strings.TrimSpace(m.Title) == "" {
		h.metrics.RecordError("news_invalid")
		return errors.New("news message without title")
	}
	symbols := m.Symbols
	if m.Symbol != "" {
		symbols = append([]string{m.Symbol}, symbols...)
	}
	if len(symbols) == 0 {
		h.metrics.RecordError("news_invalid")
		return errors.New("news message without symbol")
	}

	published := publishedAt(m.PublishedAt)
	if !published.IsZero() {
		h.metrics.RecordLatency("news_ingest_lag", time.Since(published).Seconds())
	}
	for _, sym := range symbols {
		h.sink.Add(models.Article{
			Symbol:      sym,
			Title:       m.Title,
			Description: m.Description,
			Content:     m.Content,
			Source:      m.Source,
			URL:         m.URL,
			PublishedAt: published,
		})
	}
	return nil
}

func publishedAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}
		}
		s = n.String()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.Contains(s, ".") {
		s = fmt.Sprintf("%d", int64(f))
	}
	t, _ := util.ParseTime(s)
	return t
}

var _ pkgkafka.MessageHandler = (*NewsIngestHandler)(nil)
