package state

import (
	"fmt"

	fp "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	LiquidationThresholdPct = 75  // share of collateral value counted toward solvency
	LiquidationPrecisionPct = 100
)

// MinHealthFactor is 1.0 at 18-digit precision.
var MinHealthFactor = fp.Precision

// HealthCalculator values positions and computes health factors.
// It uses small interfaces for balances and prices so it accepts
// *ledger.BalanceTracker and *oracle.Adapter without importing core.
type HealthCalculator struct {
	registry *CollateralRegistry
	unit     common.Address
	balances interface {
		GetCollateral(user, asset common.Address) *uint256.Int
		GetDebt(user, unit common.Address) *uint256.Int
	}
	prices interface {
		QuoteUsd(asset common.Address, amount *uint256.Int) (*uint256.Int, error)
	}
}

func NewHealthCalculator(
	registry *CollateralRegistry,
	unit common.Address,
	bt interface {
		GetCollateral(user, asset common.Address) *uint256.Int
		GetDebt(user, unit common.Address) *uint256.Int
	},
	prices interface {
		QuoteUsd(asset common.Address, amount *uint256.Int) (*uint256.Int, error)
	},
) *HealthCalculator {
	return &HealthCalculator{
		registry: registry,
		unit:     unit,
		balances: bt,
		prices:   prices,
	}
}

// CollateralValue sums the USD value of every registered asset for user.
// Assets with a zero balance are still priced, so a bad feed on any
// registered asset fails the whole valuation.
func (hc *HealthCalculator) CollateralValue(user common.Address) (*uint256.Int, error) {
	total := fp.Zero()
	for _, a := range hc.registry.assets {
		usd, err := hc.prices.QuoteUsd(a.Address, hc.balances.GetCollateral(user, a.Address))
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", a.Symbol, err)
		}
		total, err = fp.CheckedAdd(total, usd)
		if err != nil {
			return nil, oracle.ErrConversionOverflow
		}
	}
	return total, nil
}

// AccountInformation returns (debt, collateral USD value)
func (hc *HealthCalculator) AccountInformation(user common.Address) (*uint256.Int, *uint256.Int, error) {
	collateralUsd, err := hc.CollateralValue(user)
	if err != nil {
		return nil, nil, err
	}
	return hc.balances.GetDebt(user, hc.unit), collateralUsd, nil
}

// HealthFactor computes the current health factor for user
func (hc *HealthCalculator) HealthFactor(user common.Address) (*uint256.Int, error) {
	debt, collateralUsd, err := hc.AccountInformation(user)
	if err != nil {
		return nil, err
	}
	return ComputeHealthFactor(collateralUsd, debt)
}

// ComputeHealthFactor returns (collateralUsd * 75 / 100) * 1e18 / debt.
// A debt-free position returns the maximum uint256. A ratio too large to
// represent saturates to the same value.
func ComputeHealthFactor(collateralUsd, debt *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return fp.MaxUint256.Clone(), nil
	}

	adjusted, err := fp.MulDiv(collateralUsd, uint256.NewInt(LiquidationThresholdPct), uint256.NewInt(LiquidationPrecisionPct))
	if err != nil {
		return nil, err
	}

	hf, err := fp.MulDiv(adjusted, fp.Precision, debt)
	if err != nil {
		return fp.MaxUint256.Clone(), nil
	}
	return hf, nil
}

// IsHealthy reports hf >= MinHealthFactor
func IsHealthy(hf *uint256.Int) bool {
	return !hf.Lt(MinHealthFactor)
}
