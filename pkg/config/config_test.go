package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
environment: test
models:
  service_url: http://models:8000
analyst:
  base_url: http://llm:8080/v1
trade_gate:
  enabled: true
  repeat_policy: every_tick
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 5000, c.Server.Port)
	assert.Equal(t, 60*time.Second, c.Scheduler.Interval)
	assert.Equal(t, time.Second, c.Scheduler.SymbolDelay)
	assert.Equal(t, 0.75, c.Aggregator.BuyThreshold)
	assert.Equal(t, 0.25, c.Aggregator.SellThreshold)
	assert.Equal(t, DefaultWeights(), c.Aggregator.Weights)
	assert.Equal(t, 0.85, c.TradeGate.HighThreshold)
	assert.Equal(t, 0.15, c.TradeGate.LowThreshold)
	assert.Equal(t, 1, c.TradeGate.Quantity)
	assert.Equal(t, 50*time.Millisecond, c.Journal.RetryMin)
	assert.Equal(t, 2*time.Second, c.Journal.RetryMax)
	assert.Equal(t, 60, c.Models.SequenceLength)
	assert.Equal(t, "paper", c.Broker.Type)
	assert.Equal(t, "none", c.Journal.Backend)
	assert.Equal(t, 2, c.Journal.Queue.Workers)
	assert.Equal(t, 10*time.Second, c.Journal.Queue.RetryDelay)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "rest broker without url",
			yaml:    minimalYAML + "broker:\n  type: rest\n",
			wantErr: "broker.base_url",
		},
		{
			name:    "gate without repeat policy",
			yaml:    "models:\n  service_url: http://m\nanalyst:\n  base_url: http://a\ntrade_gate:\n  enabled: true\n",
			wantErr: "repeat_policy is required",
		},
		{
			name:    "cooldown without duration",
			yaml:    "models:\n  service_url: http://m\nanalyst:\n  base_url: http://a\ntrade_gate:\n  enabled: true\n  repeat_policy: cooldown\n",
			wantErr: "trade_gate.cooldown",
		},
		{
			name:    "weighted model without service",
			yaml:    "analyst:\n  base_url: http://a\n",
			wantErr: "models.service_url",
		},
		{
			name:    "kafka journal without kafka",
			yaml:    minimalYAML + "journal:\n  backend: kafka\n",
			wantErr: "journal.backend=kafka",
		},
		{
			name:    "redis journal without redis",
			yaml:    minimalYAML + "journal:\n  backend: redis\n",
			wantErr: "journal.backend=redis",
		},
		{
			name:    "unknown broker type",
			yaml:    minimalYAML + "broker:\n  type: smoke\n",
			wantErr: "oneof",
		},
		{
			name: "analyst weight zero needs no analyst",
			yaml: "models:\n  service_url: http://m\naggregator:\n  weights:\n    statistical_ml: 0.5\n    sequence_model: 0.5\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	env := map[string]string{
		"WATCHLIST":       "INFY, TCS,,SBIN",
		"ANALYST_API_KEY": "sk-test",
		"KAFKA_BROKERS":   "k1:9092,k2:9092",
	}
	c.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"INFY", "TCS", "SBIN"}, c.Watchlist.Symbols)
	assert.Equal(t, "sk-test", c.Analyst.APIKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
