package usecase

import (
	"context"
	"fmt"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/internal/repository"
	"TradeLoop/pkg/queue"
)

// JournalJob drains queued decision events into the decision journal.
type JournalJob struct {
	journal domrepo.DecisionJournal
	metrics domrepo.Metrics
}

func NewJournalJob(journal domrepo.DecisionJournal, metrics domrepo.Metrics) *JournalJob {
	return &JournalJob{journal: journal, metrics: metrics}
}

func (j *JournalJob) Name() string { return "journal_decisions" }
func (j *JournalJob) Type() string { return repository.DecisionMessageType }

func (j *JournalJob) Handle(ctx context.Context, payload interface{}) error {
	ev, err := queue.ParsePayload[models.DecisionEvent](payload)
	if err != nil {
		j.metrics.RecordError("journal_job_decode")
		return err
	}
	if err := j.journal.Store(ctx, *ev); err != nil {
		j.metrics.RecordError("journal_job_store")
		return fmt.Errorf("journal %s: %w", ev.ID, err)
	}
	return nil
}

var _ queue.Job = (*JournalJob)(nil)
