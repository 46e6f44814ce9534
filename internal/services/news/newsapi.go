package news

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/repository"
	svccache "TradeLoop/internal/service/cache"
	xhttp "TradeLoop/pkg/http"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"
)

// APIConfig configures the NewsAPI client.
type APIConfig struct {
	BaseURL      string
	APIKey       string
	LookbackDays int
	PageSize     int
	CacheTTL     time.Duration
}

// APIClient searches a NewsAPI compatible /everything endpoint. Raw responses
// are cached per (symbol, day) so a tick loop does not burn the API quota.
type APIClient struct {
	cfg       APIConfig
	http      *xhttp.Client
	cache     svccache.BytesCache
	companies Companies
	log       *applogger.Logger
	now       func() time.Time
}

func NewAPIClient(cfg APIConfig, hc *xhttp.Client, cache svccache.BytesCache, companies Companies, l *applogger.Logger) *APIClient {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if hc == nil {
		hc = xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
	}
	if cache == nil {
		cache = svccache.NewTTLCache()
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &APIClient{
		cfg:       cfg,
		http:      hc,
		cache:     cache,
		companies: companies,
		log:       l.With("newsapi"),
		now:       time.Now,
	}
}

type apiResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Articles returns up to PageSize articles for symbol from the lookback window.
func (c *APIClient) Articles(ctx context.Context, symbol string) ([]models.Article, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("newsapi: %w: api key not configured", repository.ErrDataUnavailable)
	}

	now := c.now().UTC()
	from := now.AddDate(0, 0, -c.cfg.LookbackDays)
	key := fmt.Sprintf("%s:%s", strings.ToUpper(symbol), now.Format("2006-01-02"))

	body, ok, err := c.cache.GetBytes(ctx, key)
	if err != nil {
		c.log.Warn("news cache read", applogger.String("symbol", symbol), applogger.Error(err))
	}
	if !ok {
		body, err = c.fetch(ctx, symbol, from, now)
		if err != nil {
			return nil, err
		}
		if err := c.cache.SetBytes(ctx, key, body, c.cfg.CacheTTL); err != nil {
			c.log.Warn("news cache write", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("newsapi decode: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", resp.Code, resp.Message)
	}

	out := make([]models.Article, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.Title == "" || a.Title == "[Removed]" {
			continue
		}
		out = append(out, models.Article{
			Symbol:      strings.ToUpper(symbol),
			Title:       a.Title,
			Description: a.Description,
			Content:     a.Content,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: util.ParseTimeDefault(a.PublishedAt, time.Time{}),
		})
	}
	return out, nil
}

func (c *APIClient) fetch(ctx context.Context, symbol string, from, to time.Time) ([]byte, error) {
	query := symbol
	if name := c.companies.Name(symbol); name != symbol {
		query = fmt.Sprintf("%s OR %q", symbol, name)
	}

	var body []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     strings.TrimRight(c.cfg.BaseURL, "/") + "/everything",
		Headers: map[string]string{"X-Api-Key": c.cfg.APIKey},
		QueryParams: map[string][]string{
			"q":        {query},
			"from":     {from.Format("2006-01-02")},
			"to":       {to.Format("2006-01-02")},
			"sortBy":   {"popularity"},
			"language": {"en"},
			"pageSize": {strconv.Itoa(c.cfg.PageSize)},
		},
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("newsapi %s: %w", symbol, err)
	}
	return body, nil
}

var (
	_ repository.NewsSource = (*APIClient)(nil)
	_ repository.NewsSource = (*ArticleStore)(nil)
)
