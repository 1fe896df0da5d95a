package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// QueryService provides read-only access to the projection tables and the
// journal. Every response carries as_of_sequence, the projection watermark
// at read time.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetAccountBalances returns a user's projected collateral and debt.
func (qs *QueryService) GetAccountBalances(ctx context.Context, user common.Address) (resp *AccountBalancesResponse, err error) {
	defer qs.track("account_balances", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp = &AccountBalancesResponse{User: user.Hex(), Debt: "0", AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, sub_type, asset, balance::TEXT, last_sequence
		FROM projections.balances
		WHERE owner = $1
		ORDER BY account_path
	`, user.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var b BalanceEntry
		if err := rows.Scan(&b.AccountPath, &b.SubType, &b.Asset, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		switch b.SubType {
		case ledger.SubTypeDebt.String():
			resp.Debt = b.Balance
		case ledger.SubTypeCollateral.String():
			resp.Collateral = append(resp.Collateral, b)
			if b.Balance != "0" {
				resp.CollateralKinds++
			}
		}
	}
	return resp, rows.Err()
}

// GetSurplus returns the projected surplus buffer for asset.
func (qs *QueryService) GetSurplus(ctx context.Context, asset common.Address) (resp *SurplusResponse, err error) {
	defer qs.track("surplus", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	resp = &SurplusResponse{Asset: asset.Hex(), Balance: "0", AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx,
		`SELECT balance::TEXT FROM projections.surplus_buffer WHERE asset = $1`, asset.Hex(),
	).Scan(&resp.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, nil
	}
	return resp, err
}

// GetLiquidationHistory returns liquidations where addr was the position
// owner or the liquidator, newest first. beforeSequence pages backwards.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	addr common.Address,
	limit int,
	beforeSequence *int64,
) (resp *LiquidationHistoryResponse, err error) {
	defer qs.track("liquidation_history", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, owner, liquidator, asset, debt_covered::TEXT, collateral_moved::TEXT,
		       payout::TEXT, bonus::TEXT, surplus_credit::TEXT, surplus_draw::TEXT, branch,
		       health_before::TEXT, health_after::TEXT, timestamp
		FROM projections.liquidation_history
		WHERE (owner = $1 OR liquidator = $1)
	`
	args := []interface{}{addr.Hex()}
	if beforeSequence != nil {
		args = append(args, *beforeSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, pageSize(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = &LiquidationHistoryResponse{Entries: []LiquidationHistoryEntry{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var e LiquidationHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.User, &e.Liquidator, &e.Asset, &e.DebtCovered, &e.CollateralMoved,
			&e.Payout, &e.Bonus, &e.SurplusCredit, &e.SurplusDraw, &e.Branch,
			&e.HealthBefore, &e.HealthAfter, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		resp.Entries = append(resp.Entries, e)
	}
	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching any of a user's
// accounts, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	user common.Address,
	limit int,
	beforeSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer qs.track("journal_history", time.Now(), &err)

	accountPrefix := fmt.Sprintf("user:%s:%%", user.Hex())

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       asset, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	if beforeSequence != nil {
		args = append(args, *beforeSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, pageSize(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC, entry_index ASC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries = []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		var jt int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&jt, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the stored hash chain links and that no projected
// balance went negative.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.track("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	negRows, err := qs.db.QueryContext(ctx, `
		SELECT account_path FROM projections.balances WHERE balance < 0 ORDER BY account_path LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer negRows.Close()
	for negRows.Next() {
		var path string
		if err := negRows.Scan(&path); err != nil {
			return nil, err
		}
		report.NegativeAccounts = append(report.NegativeAccounts, path)
	}
	if err := negRows.Err(); err != nil {
		return nil, err
	}

	var head sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&head); err != nil {
		return nil, err
	}
	report.CheckedThrough = head.Int64
	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.NegativeAccounts) == 0
	return report, nil
}

// Watermark returns the last sequence the projections reflect.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	return qs.getWatermark(ctx)
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = 'main'`,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) track(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, "db").Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
