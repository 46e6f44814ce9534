package repository

import (
	"context"
	"fmt"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/pkg/queue"
)

// DecisionMessageType is the queue message type carrying a DecisionEvent.
const DecisionMessageType = "decision_event"

// QueueDecisionPublisher pushes decision events onto a Redis work queue.
type QueueDecisionPublisher struct {
	q queue.QueueService
}

func NewQueueDecisionPublisher(q queue.QueueService) *QueueDecisionPublisher {
	return &QueueDecisionPublisher{q: q}
}

func (p *QueueDecisionPublisher) Publish(ctx context.Context, ev models.DecisionEvent) error {
	if err := p.q.PublishMessage(ctx, DecisionMessageType, ev); err != nil {
		return fmt.Errorf("enqueue decision %s: %w", ev.ID, err)
	}
	return nil
}

// Close is a no-op; the queue is owned by the application.
func (p *QueueDecisionPublisher) Close() error { return nil }

var _ domrepo.DecisionPublisher = (*QueueDecisionPublisher)(nil)
