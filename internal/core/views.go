package core

import (
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Read accessors. None of them mutate state; a stale or invalid price
// fails the read rather than falling back.

// AccountCollateralValue is the USD value of every registered asset user holds.
func (e *Engine) AccountCollateralValue(user common.Address) (*uint256.Int, error) {
	return e.health.CollateralValue(user)
}

func (e *Engine) UsdValue(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if _, err := e.requireAsset(asset); err != nil {
		return nil, err
	}
	return e.prices.QuoteUsd(asset, amount)
}

func (e *Engine) AssetAmountForUsd(asset common.Address, usd *uint256.Int) (*uint256.Int, error) {
	if _, err := e.requireAsset(asset); err != nil {
		return nil, err
	}
	return e.prices.AssetForUsd(asset, usd)
}

func (e *Engine) HealthFactor(user common.Address) (*uint256.Int, error) {
	return e.health.HealthFactor(user)
}

// AccountInformation returns (debt, collateral USD value).
func (e *Engine) AccountInformation(user common.Address) (*uint256.Int, *uint256.Int, error) {
	return e.health.AccountInformation(user)
}

func (e *Engine) SurplusBuffer(asset common.Address) *uint256.Int {
	return e.surplus.Level(asset)
}

// CollateralAssets lists registered assets with their feed bindings, in
// registration order.
func (e *Engine) CollateralAssets() []state.CollateralAsset {
	return e.registry.Assets()
}

func (e *Engine) CollateralBalance(user, asset common.Address) *uint256.Int {
	return e.balances.GetCollateral(user, asset)
}

func (e *Engine) Debt(user common.Address) *uint256.Int {
	return e.balances.GetDebt(user, e.unitAddr)
}

// Custody is the engine's own token balance in asset.
func (e *Engine) Custody(asset common.Address) *uint256.Int {
	tok, ok := e.collateral[asset]
	if !ok {
		return new(uint256.Int)
	}
	return tok.BalanceOf(e.self)
}

func (e *Engine) Address() common.Address     { return e.self }
func (e *Engine) UnitAddress() common.Address { return e.unitAddr }
