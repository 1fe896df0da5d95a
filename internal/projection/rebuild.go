package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SynthLedger/internal/event"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// RebuildProjections recomputes every projection table from the event log
// in one transaction.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	start := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.surplus_buffer`,
		`TRUNCATE projections.liquidation_history`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	// Debits add, credits subtract. Path layout is user:<owner>:<type>:<asset>
	// or system:<type>:<asset>.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, owner, sub_type, asset, balance, last_sequence, updated_at)
		SELECT account_path,
		       CASE WHEN split_part(account_path, ':', 1) = 'user' THEN split_part(account_path, ':', 2) END,
		       CASE WHEN split_part(account_path, ':', 1) = 'user' THEN split_part(account_path, ':', 3)
		            ELSE split_part(account_path, ':', 2) END,
		       CASE WHEN split_part(account_path, ':', 1) = 'user' THEN split_part(account_path, ':', 4)
		            ELSE split_part(account_path, ':', 3) END,
		       SUM(delta),
		       MAX(sequence),
		       NOW()
		FROM (
			SELECT debit_account AS account_path, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, -amount, sequence FROM event_log.journal
		) moves
		WHERE account_path NOT LIKE 'external:%'
		GROUP BY account_path
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (owner, debt, collateral_kinds, last_sequence, updated_at)
		SELECT owner,
		       COALESCE(SUM(balance) FILTER (WHERE sub_type = 'debt'), 0),
		       COUNT(*) FILTER (WHERE sub_type = 'collateral' AND balance > 0),
		       MAX(last_sequence),
		       NOW()
		FROM projections.balances
		WHERE owner IS NOT NULL
		GROUP BY owner
	`); err != nil {
		return fmt.Errorf("rebuild positions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.surplus_buffer (asset, balance, last_sequence)
		SELECT asset, SUM(balance), MAX(last_sequence)
		FROM projections.balances
		WHERE owner IS NULL AND sub_type = 'surplus'
		GROUP BY asset
	`); err != nil {
		return fmt.Errorf("rebuild surplus: %w", err)
	}

	liquidations, err := rebuildLiquidations(ctx, tx)
	if err != nil {
		return err
	}

	var head sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&head); err != nil {
		return fmt.Errorf("event log head: %w", err)
	}
	if err := setWatermark(ctx, tx, head.Int64); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().
		Int64("watermark", head.Int64).
		Int("liquidations", liquidations).
		Dur("took", time.Since(start)).
		Msg("projection rebuild complete")
	return nil
}

// rebuildLiquidations decodes each liquidation's record payload. Records
// are JSON inside the event row, so this pass runs in Go.
func rebuildLiquidations(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, payload, timestamp
		FROM event_log.events
		WHERE event_type = $1
		ORDER BY sequence ASC
	`, event.EventTypeLiquidate.String())
	if err != nil {
		return 0, fmt.Errorf("load liquidations: %w", err)
	}

	type logged struct {
		seq     int64
		ts      time.Time
		records []event.Record
	}
	var found []logged
	for rows.Next() {
		var l logged
		var payload []byte
		if err := rows.Scan(&l.seq, &payload, &l.ts); err != nil {
			rows.Close()
			return 0, err
		}
		if l.records, err = event.DecodeRecords(payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("seq %d: %w", l.seq, err)
		}
		found = append(found, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, l := range found {
		for _, r := range l.records {
			liq, ok := r.(event.Liquidated)
			if !ok {
				continue
			}
			if err := insertLiquidation(ctx, tx, l.seq, l.ts, liq); err != nil {
				return n, fmt.Errorf("seq %d: %w", l.seq, err)
			}
			n++
		}
	}
	return n, nil
}

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
