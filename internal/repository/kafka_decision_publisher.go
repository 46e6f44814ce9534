package repository

import (
	"context"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

// MessageProducer is the slice of pkg/kafka.Producer the publisher needs.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaDecisionPublisher streams decision events keyed by symbol, so every
// decision for one instrument lands on the same partition in order.
type KafkaDecisionPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaDecisionPublisher(producer MessageProducer, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) Publish(ctx context.Context, ev models.DecisionEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Decision.Symbol), ev)
}

func (p *KafkaDecisionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.DecisionPublisher = (*KafkaDecisionPublisher)(nil)
