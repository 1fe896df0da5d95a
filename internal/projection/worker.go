package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const watermarkName = "main"

// ProjectionWorker maintains the read-side tables from applied commands.
// The engine feeds it with a non-blocking send, so it may miss outputs
// under load; RebuildProjections repairs the tables from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until the channel closes or ctx ends. Outputs at or
// below the stored watermark are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("projection", len(pw.inputChan), cap(pw.inputChan))
			}
			if output.Envelope.Sequence <= pw.lastSeq {
				continue
			}
			if output.Envelope.Sequence > pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", output.Envelope.Sequence).
					Msg("projection gap, outputs were dropped; rebuild to repair")
			}

			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent and rebuildable.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

// Apply writes one output to every projection in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	owners := make(map[common.Address]bool)
	surplus := make(map[common.Address]bool)
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			for _, side := range []struct {
				key   ledger.AccountKey
				delta string
			}{{j.DebitAccount, j.Amount.Dec()}, {j.CreditAccount, "-" + j.Amount.Dec()}} {
				if !side.key.Tracked() {
					continue
				}
				if err := upsertBalance(ctx, tx, side.key, side.delta, seq); err != nil {
					return fmt.Errorf("balance projection: %w", err)
				}
				switch side.key.Scope {
				case ledger.AccountScopeUser:
					owners[side.key.Owner] = true
				case ledger.AccountScopeSystem:
					surplus[side.key.Asset] = true
				}
			}
		}
	}
	pw.observe("balances", start)

	posStart := time.Now()
	for owner := range owners {
		if err := refreshPosition(ctx, tx, owner.Hex(), seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	for asset := range surplus {
		if err := refreshSurplus(ctx, tx, asset.Hex(), seq); err != nil {
			return fmt.Errorf("surplus projection: %w", err)
		}
	}
	pw.observe("positions", posStart)

	liqStart := time.Now()
	for _, r := range output.Records {
		if liq, ok := r.(event.Liquidated); ok {
			if err := insertLiquidation(ctx, tx, seq, output.Envelope.Timestamp, liq); err != nil {
				return fmt.Errorf("liquidation history: %w", err)
			}
		}
	}
	pw.observe("liquidation_history", liqStart)

	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionLastSequence.Set(float64(seq))
	}
	return nil
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

func upsertBalance(ctx context.Context, tx *sql.Tx, key ledger.AccountKey, delta string, seq int64) error {
	var owner sql.NullString
	if key.Scope == ledger.AccountScopeUser {
		owner = sql.NullString{String: key.Owner.Hex(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, owner, sub_type, asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $5::NUMERIC, last_sequence = $6, updated_at = NOW()
	`, key.AccountPath(), owner, key.SubType.String(), key.Asset.Hex(), delta, seq)
	return err
}

func refreshPosition(ctx context.Context, tx *sql.Tx, owner string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (owner, debt, collateral_kinds, last_sequence, updated_at)
		SELECT $1,
		       COALESCE(SUM(balance) FILTER (WHERE sub_type = 'debt'), 0),
		       COUNT(*) FILTER (WHERE sub_type = 'collateral' AND balance > 0),
		       $2, NOW()
		FROM projections.balances
		WHERE owner = $1
		ON CONFLICT (owner) DO UPDATE
			SET debt = EXCLUDED.debt,
			    collateral_kinds = EXCLUDED.collateral_kinds,
			    last_sequence = EXCLUDED.last_sequence,
			    updated_at = NOW()
	`, owner, seq)
	return err
}

func refreshSurplus(ctx context.Context, tx *sql.Tx, asset string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.surplus_buffer (asset, balance, last_sequence)
		SELECT $1, COALESCE(SUM(balance), 0), $2
		FROM projections.balances
		WHERE owner IS NULL AND sub_type = 'surplus' AND asset = $1
		ON CONFLICT (asset) DO UPDATE SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`, asset, seq)
	return err
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, l event.Liquidated) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, owner, liquidator, asset, debt_covered, collateral_moved, payout, bonus,
			 surplus_credit, surplus_draw, branch, health_before, health_after, timestamp)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		        $9::NUMERIC, $10::NUMERIC, $11, $12::NUMERIC, $13::NUMERIC, $14)
		ON CONFLICT (sequence, owner) DO NOTHING
	`, seq, l.User.Hex(), l.Liquidator.Hex(), l.Asset.Hex(),
		dec(l.DebtCovered), dec(l.CollateralMoved), dec(l.Payout), dec(l.Bonus),
		dec(l.SurplusCredit), dec(l.SurplusDraw), l.Branch,
		dec(l.HealthBefore), dec(l.HealthAfter), ts)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, seq)
	return err
}

// LoadWatermark returns the last sequence the projections reflect.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, watermarkName,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
