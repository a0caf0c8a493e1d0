package repository

import (
	"context"
	"encoding/json"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/queue"
)

const CycleJournalType = "cycle_journal"

// QueueJournal hands cycle summaries to the Redis queue so a slow or
// unavailable ClickHouse never delays a cycle.
type QueueJournal struct {
	q queue.Publisher
}

func NewQueueJournal(q queue.Publisher) *QueueJournal {
	return &QueueJournal{q: q}
}

func (j *QueueJournal) RecordCycle(ctx context.Context, res models.CycleResult) error {
	return j.q.Publish(ctx, CycleJournalType, res)
}

// CycleJournalJob drains queued summaries into the wrapped journal.
type CycleJournalJob struct {
	journal drepo.Journal
}

func NewCycleJournalJob(journal drepo.Journal) *CycleJournalJob {
	return &CycleJournalJob{journal: journal}
}

func (j *CycleJournalJob) Name() string { return "cycle-journal-writer" }
func (j *CycleJournalJob) Type() string { return CycleJournalType }

func (j *CycleJournalJob) Handle(ctx context.Context, payload json.RawMessage) error {
	res, err := queue.Decode[models.CycleResult](payload)
	if err != nil {
		return err
	}
	return j.journal.RecordCycle(ctx, res)
}

var (
	_ drepo.Journal = (*QueueJournal)(nil)
	_ queue.Job     = (*CycleJournalJob)(nil)
)
