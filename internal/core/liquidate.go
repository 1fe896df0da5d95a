package core

import (
	"SynthLedger/internal/event"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// liquidate covers debtToCover of user's debt with liquidator's unit
// holdings and settles the seized collateral in asset.
//
// Order: preconditions, settlement legs, debt burn, payout, then both
// health checks against the settled ledger. External calls run at commit.
func (e *Engine) liquidate(tx *txn, liquidator, asset, user common.Address, debtToCover *uint256.Int) error {
	if err := e.requireAmount(debtToCover); err != nil {
		return err
	}
	tok, err := e.requireAsset(asset)
	if err != nil {
		return err
	}

	before, err := e.health.HealthFactor(user)
	if err != nil {
		return err
	}
	if state.IsHealthy(before) {
		return &HealthFactorOkError{User: user, Current: before}
	}
	if owed := e.balances.GetDebt(user, e.unitAddr); debtToCover.Gt(owed) {
		return &DebtExceedsOwedError{Requested: debtToCover.Clone(), Owed: owed}
	}

	collateralFromDebt, err := e.prices.AssetForUsd(asset, debtToCover)
	if err != nil {
		return err
	}
	terms, err := state.ComputeTerms(collateralFromDebt)
	if err != nil {
		return err
	}
	plan, err := state.PlanSettlement(user, liquidator, asset, terms,
		e.balances.GetCollateral(user, asset), e.surplus)
	if err != nil {
		return err
	}
	if err := tx.apply(plan.Legs...); err != nil {
		return err
	}

	if err := e.burn(tx, user, liquidator, debtToCover); err != nil {
		return err
	}
	if !plan.Payout.IsZero() {
		e.pushOut(tx, tok, "liquidation payout", liquidator, plan.Payout)
	}

	after, err := e.health.HealthFactor(user)
	if err != nil {
		return err
	}
	if !after.Gt(before) {
		return &HealthFactorNotImprovedError{Before: before, After: after}
	}
	if err := e.requireHealthy(liquidator); err != nil {
		return err
	}

	tx.emit(event.Liquidated{
		User:            user,
		Liquidator:      liquidator,
		Asset:           asset,
		DebtCovered:     debtToCover.Clone(),
		CollateralMoved: plan.CollateralMoved(),
		Payout:          plan.Payout.Clone(),
		Bonus:           terms.Bonus.Clone(),
		SurplusCredit:   plan.SurplusCredit.Clone(),
		SurplusDraw:     plan.SurplusDraw.Clone(),
		Branch:          plan.Branch.String(),
		HealthBefore:    before,
		HealthAfter:     after,
	})
	return nil
}
