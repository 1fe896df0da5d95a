package core

import (
	"fmt"

	"SynthLedger/internal/event"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (e *Engine) requireAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrAmountZero
	}
	return nil
}

func (e *Engine) requireAsset(asset common.Address) (Token, error) {
	if !e.registry.IsAllowed(asset) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset.Hex())
	}
	return e.collateral[asset], nil
}

// requireHealthy fails with HealthFactorBrokenError if user is below the minimum.
func (e *Engine) requireHealthy(user common.Address) error {
	hf, err := e.health.HealthFactor(user)
	if err != nil {
		return err
	}
	if !state.IsHealthy(hf) {
		return &HealthFactorBrokenError{User: user, Actual: hf}
	}
	return nil
}

// pullIn queues a transfer of amount from owner into custody.
func (e *Engine) pullIn(tx *txn, tok Token, what string, owner common.Address, amount *uint256.Int) {
	amt := amount.Clone()
	tx.interact(what,
		func() error {
			if err := tok.Transfer(owner, e.self, amt); err != nil {
				return fmt.Errorf("%w: %s from %s: %w", ErrTransferFailed, what, owner.Hex(), err)
			}
			return nil
		},
		func() error { return tok.Transfer(e.self, owner, amt) },
	)
}

// pushOut queues a transfer of amount from custody to recipient.
func (e *Engine) pushOut(tx *txn, tok Token, what string, recipient common.Address, amount *uint256.Int) {
	amt := amount.Clone()
	tx.interact(what,
		func() error {
			if err := tok.Transfer(e.self, recipient, amt); err != nil {
				return fmt.Errorf("%w: %s to %s: %w", ErrTransferFailed, what, recipient.Hex(), err)
			}
			return nil
		},
		func() error { return tok.Transfer(recipient, e.self, amt) },
	)
}

func (e *Engine) deposit(tx *txn, caller, asset common.Address, amount *uint256.Int) error {
	if err := e.requireAmount(amount); err != nil {
		return err
	}
	tok, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	if err := tx.apply(e.journalGen.DepositLeg(caller, asset, amount)); err != nil {
		return err
	}
	e.pullIn(tx, tok, "collateral deposit", caller, amount)
	tx.emit(event.CollateralDeposited{User: caller, Asset: asset, Amount: amount.Clone()})
	return nil
}

func (e *Engine) mint(tx *txn, caller common.Address, amount *uint256.Int) error {
	if err := e.requireAmount(amount); err != nil {
		return err
	}
	if err := tx.apply(e.journalGen.MintLeg(caller, amount)); err != nil {
		return err
	}
	if err := e.requireHealthy(caller); err != nil {
		return err
	}
	amt := amount.Clone()
	tx.interact("unit mint",
		func() error {
			if err := e.issuer.Mint(caller, amt); err != nil {
				return fmt.Errorf("%w: %w", ErrMintFailed, err)
			}
			return nil
		},
		func() error {
			if err := e.unit.Transfer(caller, e.self, amt); err != nil {
				return err
			}
			return e.issuer.Burn(amt)
		},
	)
	tx.emit(event.UnitMinted{User: caller, Amount: amount.Clone()})
	return nil
}

// redeem releases collateral recorded for from to the address to.
func (e *Engine) redeem(tx *txn, from, to, asset common.Address, amount *uint256.Int) error {
	if err := e.requireAmount(amount); err != nil {
		return err
	}
	tok, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	recorded := e.balances.GetCollateral(from, asset)
	if amount.Gt(recorded) {
		return &InsufficientUserCollateralError{Asset: asset, Requested: amount.Clone(), Available: recorded}
	}
	custody := tok.BalanceOf(e.self)
	if total := e.balances.TotalRecorded(asset); custody.Lt(amount) || custody.Lt(total) {
		required := total
		if amount.Gt(required) {
			required = amount.Clone()
		}
		return &InsufficientContractBalanceError{Asset: asset, Custody: custody, Required: required}
	}

	if err := tx.apply(e.journalGen.RedeemLeg(from, asset, amount)); err != nil {
		return err
	}
	if err := e.requireHealthy(from); err != nil {
		return err
	}
	e.pushOut(tx, tok, "collateral redeem", to, amount)
	tx.emit(event.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: amount.Clone()})
	return nil
}

// burn retires amount of onBehalfOf's debt using payer's unit holdings.
// Repaying debt never lowers a health factor, so there is no check here.
func (e *Engine) burn(tx *txn, onBehalfOf, payer common.Address, amount *uint256.Int) error {
	if err := e.requireAmount(amount); err != nil {
		return err
	}
	owed := e.balances.GetDebt(onBehalfOf, e.unitAddr)
	if amount.Gt(owed) {
		return &DebtExceedsOwedError{Requested: amount.Clone(), Owed: owed}
	}
	if err := tx.apply(e.journalGen.BurnLeg(onBehalfOf, amount)); err != nil {
		return err
	}

	amt := amount.Clone()
	e.pullIn(tx, e.unit, "unit repayment", payer, amt)
	tx.interact("unit burn",
		func() error {
			if err := e.issuer.Burn(amt); err != nil {
				return fmt.Errorf("%w: %w", ErrBurnFailed, err)
			}
			return nil
		},
		func() error { return e.issuer.Mint(e.self, amt) },
	)
	tx.emit(event.UnitBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: amount.Clone()})
	return nil
}

func (e *Engine) depositSurplus(tx *txn, depositor, asset common.Address, amount *uint256.Int) error {
	if err := e.requireAmount(amount); err != nil {
		return err
	}
	tok, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	if err := tx.apply(e.journalGen.SurplusDepositLeg(asset, amount)); err != nil {
		return err
	}
	e.pullIn(tx, tok, "surplus deposit", depositor, amount)
	tx.emit(event.SurplusDeposited{Depositor: depositor, Asset: asset, Amount: amount.Clone()})
	return nil
}
