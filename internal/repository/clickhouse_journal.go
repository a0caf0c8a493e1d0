package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

// JournalSchema creates the journal tables. Writes can arrive more than once
// through the job queue, so rows collapse on (account_id, ts, cycle_id).
func JournalSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.cycle_journal (
	ts DateTime64(3, 'UTC'),
	cycle_id String,
	account_id LowCardinality(String),
	mode LowCardinality(String),
	regime LowCardinality(String),
	price Decimal(18, 4),
	vix Decimal(18, 4),
	drawdown Float64,
	deployed_pct Float64,
	halted UInt8,
	actions UInt16,
	failed UInt16,
	notes String,
	payload String
) ENGINE = ReplacingMergeTree ORDER BY (account_id, ts, cycle_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.regime_transitions (
	ts DateTime64(3, 'UTC'),
	cycle_id String,
	account_id LowCardinality(String),
	from_regime LowCardinality(String),
	to_regime LowCardinality(String),
	price Decimal(18, 4),
	reason String
) ENGINE = ReplacingMergeTree ORDER BY (account_id, ts, cycle_id, to_regime)`, database),
	}
}

// ClickHouseJournal writes cycle summaries for history analytics.
type ClickHouseJournal struct {
	db       *sql.DB
	database string
}

func NewClickHouseJournal(db *sql.DB, database string) *ClickHouseJournal {
	return &ClickHouseJournal{db: db, database: database}
}

func (j *ClickHouseJournal) RecordCycle(ctx context.Context, res models.CycleResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("journal payload: %w", err)
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	halted := uint8(0)
	if res.Verdict.Halted {
		halted = 1
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s.cycle_journal (ts, cycle_id, account_id, mode, regime, price, vix, drawdown, deployed_pct, halted, actions, failed, notes, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", j.database),
		res.Timestamp,
		res.CycleID,
		res.AccountID,
		string(res.Mode),
		string(res.Regime.Type),
		res.Snapshot.Price.String(),
		res.Snapshot.VIX.String(),
		res.Verdict.Drawdown.InexactFloat64(),
		res.Verdict.DeployedPct.InexactFloat64(),
		halted,
		uint16(len(res.Actions)),
		uint16(res.Failed()),
		strings.Join(res.Notes, "\n"),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal cycle insert: %w", err)
	}

	for _, tr := range res.Transitions {
		from := ""
		if tr.Closed != nil {
			from = string(tr.Closed.Type)
		}
		price := "0"
		if tr.Opened.PriceAtStart != nil {
			price = tr.Opened.PriceAtStart.String()
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s.regime_transitions (ts, cycle_id, account_id, from_regime, to_regime, price, reason) VALUES (?, ?, ?, ?, ?, ?, ?)", j.database),
			tr.Opened.StartedAt, res.CycleID, res.AccountID, from, string(tr.Opened.Type), price, tr.Reason,
		)
		if err != nil {
			return fmt.Errorf("journal transition insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}
	return nil
}

var _ drepo.Journal = (*ClickHouseJournal)(nil)
