package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
)

func sampleCycle() models.CycleResult {
	first := regime("r1", models.RegimeNormalBull, t0)
	next := regime("r2", models.RegimeDefenseTrigger, t0)
	next.PriceAtStart = models.Dec(decimal.NewFromInt(480))
	return models.CycleResult{
		CycleID:   "cyc-1",
		AccountID: "acct",
		Mode:      models.ModeApproval,
		Regime:    next,
		Transitions: []models.RegimeTransition{
			{Closed: closed(first, t0), Opened: next, Reason: "price below 20-day SMA"},
		},
		Snapshot:  models.MarketSnapshot{Symbol: "QQQ", Price: decimal.NewFromInt(480), VIX: decimal.NewFromInt(24)},
		Verdict:   models.RiskVerdict{Allow: true, ScaleFactor: decimal.NewFromInt(1)},
		Actions:   []models.ActionOutcome{{Kind: models.ActionClosePutSpread, Status: models.OutcomeSubmitted}},
		Notes:     []string{"one"},
		Timestamp: t0,
	}
}

func TestClickHouseJournalRecordCycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	res := sampleCycle()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO regime\.cycle_journal`).
		WithArgs(res.Timestamp, "cyc-1", "acct", "approval", "defense_trigger", "480", "24",
			sqlmock.AnyArg(), sqlmock.AnyArg(), uint8(0), uint16(1), uint16(0), "one", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO regime\.regime_transitions`).
		WithArgs(t0, "cyc-1", "acct", "normal_bull", "defense_trigger", "480", "price below 20-day SMA").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	j := NewClickHouseJournal(db, "regime")
	require.NoError(t, j.RecordCycle(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseJournalRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO regime\.cycle_journal`).WillReturnError(errors.New("table missing"))
	mock.ExpectRollback()

	err = NewClickHouseJournal(db, "regime").RecordCycle(context.Background(), sampleCycle())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal cycle insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type capturingJournal struct {
	got []models.CycleResult
}

func (c *capturingJournal) RecordCycle(_ context.Context, res models.CycleResult) error {
	c.got = append(c.got, res)
	return nil
}

type capturingQueue struct {
	msgType string
	payload interface{}
}

func (q *capturingQueue) Publish(_ context.Context, msgType string, payload interface{}) error {
	q.msgType, q.payload = msgType, payload
	return nil
}

func TestQueueJournalRoundTrip(t *testing.T) {
	q := &capturingQueue{}
	require.NoError(t, NewQueueJournal(q).RecordCycle(context.Background(), sampleCycle()))
	assert.Equal(t, CycleJournalType, q.msgType)

	// the worker hands the job the payload as it was stored
	raw, err := json.Marshal(q.payload)
	require.NoError(t, err)

	sink := &capturingJournal{}
	job := NewCycleJournalJob(sink)
	assert.Equal(t, CycleJournalType, job.Type())
	require.NoError(t, job.Handle(context.Background(), raw))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "cyc-1", sink.got[0].CycleID)
	assert.Equal(t, models.RegimeDefenseTrigger, sink.got[0].Regime.Type)
	require.Len(t, sink.got[0].Transitions, 1)

	assert.Error(t, job.Handle(context.Background(), json.RawMessage(`42`)))
}
