package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"
	domsvc "TradeLoop/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClassifierRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/sequence/predict", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var in models.ClassifierInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "sequence", in.Model)
		assert.Len(t, in.Sequence, 3)
		_, _ = w.Write([]byte(`{"class": 1, "probabilities": [0.1, 0.8, 0.1]}`))
	}))
	defer srv.Close()

	clf := NewHTTPClassifier(NewHTTPServiceBase(srv.URL+"/", time.Second, 3), "sequence")
	pred, err := clf.Predict(context.Background(), models.ClassifierInput{Symbol: "INFY", Sequence: []float64{0, 0.5, 1}})
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, pred.Action())
	assert.Equal(t, 0.8, pred.Confidence())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPClassifierDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown model", http.StatusNotFound)
	}))
	defer srv.Close()

	clf := NewHTTPClassifier(NewHTTPServiceBase(srv.URL, time.Second, 3), "nope")
	_, err := clf.Predict(context.Background(), models.ClassifierInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPClassifierMissingClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"probabilities": [1, 0, 0]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(NewHTTPServiceBase(srv.URL, time.Second, 1), "statistical").
		Predict(context.Background(), models.ClassifierInput{})
	assert.ErrorContains(t, err, "no class")
}

func TestChatReasoner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "analyst-model", req.Model)
		assert.Equal(t, 0.2, req.Temperature)
		assert.Equal(t, 1000, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "Analyze INFY", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"HOLD for now"}}]}`))
	}))
	defer srv.Close()

	r := NewChatReasoner(NewHTTPServiceBase(srv.URL+"/v1", time.Second, 1), ChatConfig{
		APIKey: "sk-test", Model: "analyst-model", Temperature: 0.2,
	})
	out, err := r.Complete(context.Background(), domsvc.Prompt{System: "be brief", User: "Analyze INFY"})
	require.NoError(t, err)
	assert.Equal(t, "HOLD for now", out)
}

func TestChatReasonerEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	r := NewChatReasoner(NewHTTPServiceBase(srv.URL, time.Second, 1), ChatConfig{})
	_, err := r.Complete(context.Background(), domsvc.Prompt{User: "x"})
	assert.ErrorContains(t, err, "empty response")
}

func TestPostJSONWithRetryHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewHTTPServiceBase(srv.URL, time.Second, 5).PostJSONWithRetry(ctx, "/x", map[string]int{"a": 1}, nil)
	assert.Error(t, err)
}
