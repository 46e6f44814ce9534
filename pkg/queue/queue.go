package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueService publishes typed messages. Its method set matches
// logger.Publisher so a queue can also carry aggregated log batches.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type QueueConfig struct {
	Workers    int
	RetryLimit int           // attempts after the first failure before the DLQ
	RetryDelay time.Duration // delay before a failed message is requeued
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload converts a decoded payload back into T. Payloads arrive as
// json.RawMessage from Redis and as values when handed over in process.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return unmarshalPayload[T](p)
	case []byte:
		return unmarshalPayload[T](p)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		return unmarshalPayload[T](b)
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

func unmarshalPayload[T any](b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &out, nil
}
