package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	xhttp "TradeLoop/pkg/http"
)

// HTTPServiceBase is the shared JSON-over-HTTP plumbing of the model
// service clients.
type HTTPServiceBase struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
	headers  map[string]string
}

// NewHTTPServiceBase builds a base for baseURL. attempts below 1 means one try.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, attempts int) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return NewHTTPServiceBaseWithClient(baseURL, xhttp.NewClient(xhttp.WithTimeout(timeout)), attempts)
}

// NewHTTPServiceBaseWithClient reuses an existing client (tests, shared pools).
func NewHTTPServiceBaseWithClient(baseURL string, client *xhttp.Client, attempts int) *HTTPServiceBase {
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPServiceBase{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		attempts: attempts,
		headers:  map[string]string{"Content-Type": "application/json"},
	}
}

// SetHeader adds a header to every request (Authorization for hosted models).
func (b *HTTPServiceBase) SetHeader(key, value string) {
	b.headers[key] = value
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("model service client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + path,
		Headers: b.headers,
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures with a linear backoff. 4xx
// responses are not retried.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	var err error
	for i := 1; i <= b.attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.ClientError() {
			return err
		}
		if i == b.attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
