package state_test

import (
	"errors"
	"testing"

	"SynthLedger/internal/ledger"
	fp "SynthLedger/internal/math"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	liquidator = common.HexToAddress("0x0000000000000000000000000000000000000002")
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	wbtc       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	unit       = common.HexToAddress("0x00000000000000000000000000000000000000d0")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// ============================================================================
// Test: CollateralRegistry
// ============================================================================

func TestRegistry_RejectsBadInput(t *testing.T) {
	_, err := state.NewCollateralRegistry(nil)
	assert.ErrorIs(t, err, state.ErrEmptyRegistry)

	_, err = state.NewCollateralRegistry([]state.CollateralAsset{{Symbol: "WETH", FeedID: "ETH-USD"}})
	assert.Error(t, err, "zero address")

	_, err = state.NewCollateralRegistry([]state.CollateralAsset{
		{Address: weth, Symbol: "WETH", FeedID: "ETH-USD"},
		{Address: weth, Symbol: "WETH2", FeedID: "ETH2-USD"},
	})
	assert.Error(t, err, "duplicate address")
}

func TestRegistry_OrderAndLookup(t *testing.T) {
	r, err := state.NewCollateralRegistry([]state.CollateralAsset{
		{Address: weth, Symbol: "WETH", FeedID: "ETH-USD"},
		{Address: wbtc, Symbol: "WBTC", FeedID: "BTC-USD"},
	})
	require.NoError(t, err)

	assets := r.Assets()
	require.Len(t, assets, 2)
	assert.Equal(t, "WETH", assets[0].Symbol)
	assert.Equal(t, "WBTC", assets[1].Symbol)

	assert.True(t, r.IsAllowed(wbtc))
	assert.False(t, r.IsAllowed(unit))

	a, ok := r.ByFeed("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, wbtc, a.Address)
}

// ============================================================================
// Test: Health factor
// ============================================================================

func TestComputeHealthFactor(t *testing.T) {
	// $2000 collateral, 1500 debt -> exactly 1.0
	hf, err := state.ComputeHealthFactor(fp.Units(2000), fp.Units(1500))
	require.NoError(t, err)
	assert.Equal(t, fp.Precision.Dec(), hf.Dec())
	assert.True(t, state.IsHealthy(hf))

	// $1800 collateral, 1500 debt -> 0.9
	hf, err = state.ComputeHealthFactor(fp.Units(1800), fp.Units(1500))
	require.NoError(t, err)
	assert.Equal(t, "900000000000000000", hf.Dec())
	assert.False(t, state.IsHealthy(hf))
}

func TestComputeHealthFactor_NoDebtIsMax(t *testing.T) {
	hf, err := state.ComputeHealthFactor(fp.Zero(), fp.Zero())
	require.NoError(t, err)
	assert.Equal(t, fp.MaxUint256.Dec(), hf.Dec())
}

func TestComputeHealthFactor_Saturates(t *testing.T) {
	huge := new(uint256.Int).Rsh(fp.MaxUint256, 1)
	hf, err := state.ComputeHealthFactor(huge, u(1))
	require.NoError(t, err)
	assert.Equal(t, fp.MaxUint256.Dec(), hf.Dec())
}

type flatPrices map[common.Address]error

// QuoteUsd prices everything at $1 per unit unless the asset is set to fail.
func (p flatPrices) QuoteUsd(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := p[asset]; err != nil {
		return nil, err
	}
	return amount.Clone(), nil
}

func TestHealthCalculator_ZeroBalanceAssetStillPriced(t *testing.T) {
	r, err := state.NewCollateralRegistry([]state.CollateralAsset{
		{Address: weth, Symbol: "WETH", FeedID: "ETH-USD"},
		{Address: wbtc, Symbol: "WBTC", FeedID: "BTC-USD"},
	})
	require.NoError(t, err)

	bt := ledger.NewBalanceTracker()
	bt.SetBalance(ledger.NewUserAccountKey(user, ledger.SubTypeCollateral, weth), fp.Units(10))

	stale := errors.New("stale")
	hc := state.NewHealthCalculator(r, unit, bt, flatPrices{wbtc: stale})

	_, err = hc.CollateralValue(user)
	assert.ErrorIs(t, err, stale)

	hc = state.NewHealthCalculator(r, unit, bt, flatPrices{})
	v, err := hc.CollateralValue(user)
	require.NoError(t, err)
	assert.Equal(t, fp.Units(10).Dec(), v.Dec())
}

// ============================================================================
// Test: Settlement planning
// ============================================================================

// cfd=1000 wei: bonus 100, take 1100, skim 50, owed 1150
func terms(t *testing.T) state.SettlementTerms {
	t.Helper()
	tm, err := state.ComputeTerms(u(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(100), tm.Bonus.Uint64())
	require.Equal(t, uint64(1100), tm.LiquidatorTake.Uint64())
	require.Equal(t, uint64(50), tm.SurplusSkim.Uint64())
	require.Equal(t, uint64(1150), tm.TotalOwed.Uint64())
	return tm
}

func settle(t *testing.T, userCollateral, buffer uint64) (*state.SettlementPlan, *ledger.BalanceTracker, error) {
	t.Helper()
	bt := ledger.NewBalanceTracker()
	bt.SetBalance(ledger.NewUserAccountKey(user, ledger.SubTypeCollateral, weth), u(userCollateral))
	bt.SetBalance(ledger.NewSystemAccountKey(ledger.SubTypeSystemSurplus, weth), u(buffer))

	plan, err := state.PlanSettlement(user, liquidator, weth, terms(t), u(userCollateral), state.NewSurplusBuffer(bt))
	if err != nil {
		return nil, bt, err
	}

	before := bt.TotalRecorded(weth)
	gen := ledger.NewJournalGenerator(unit)
	batch := gen.Append(gen.NewBatch("liq", 1, 0), plan.Legs...)
	require.NoError(t, bt.ApplyBatch(batch))

	// Recorded total always falls by exactly the external payout.
	drop := new(uint256.Int).Sub(before, bt.TotalRecorded(weth))
	assert.Equal(t, plan.Payout.Dec(), drop.Dec())
	return plan, bt, nil
}

func TestPlanSettlement_FullSkim_AtTotalOwed(t *testing.T) {
	plan, bt, err := settle(t, 1150, 0)
	require.NoError(t, err)

	assert.Equal(t, state.BranchFullSkim, plan.Branch)
	assert.True(t, bt.GetCollateral(user, weth).IsZero())
	assert.Equal(t, uint64(100), bt.GetCollateral(liquidator, weth).Uint64())
	assert.Equal(t, uint64(50), bt.GetSurplus(weth).Uint64())
}

func TestPlanSettlement_FullSkim_LeavesRemainder(t *testing.T) {
	plan, bt, err := settle(t, 5000, 0)
	require.NoError(t, err)

	assert.Equal(t, state.BranchFullSkim, plan.Branch)
	assert.Equal(t, uint64(3850), bt.GetCollateral(user, weth).Uint64())
	assert.Equal(t, uint64(1150), plan.CollateralMoved().Uint64())
}

func TestPlanSettlement_PartialSkim_JustBelowOwed(t *testing.T) {
	plan, bt, err := settle(t, 1149, 0)
	require.NoError(t, err)

	assert.Equal(t, state.BranchPartialSkim, plan.Branch)
	assert.True(t, bt.GetCollateral(user, weth).IsZero())
	assert.Equal(t, uint64(49), bt.GetSurplus(weth).Uint64())
	assert.Equal(t, uint64(100), bt.GetCollateral(liquidator, weth).Uint64())
}

func TestPlanSettlement_PartialSkim_AtTake(t *testing.T) {
	plan, bt, err := settle(t, 1100, 0)
	require.NoError(t, err)

	assert.Equal(t, state.BranchPartialSkim, plan.Branch)
	assert.True(t, plan.SurplusCredit.IsZero())
	assert.Len(t, plan.Legs, 2, "zero skim leg is dropped")
	assert.True(t, bt.GetSurplus(weth).IsZero())
}

func TestPlanSettlement_Backstop_JustBelowTake(t *testing.T) {
	plan, bt, err := settle(t, 1099, 10)
	require.NoError(t, err)

	assert.Equal(t, state.BranchSurplusBackstop, plan.Branch)
	assert.Equal(t, uint64(1), plan.SurplusDraw.Uint64())
	assert.True(t, bt.GetCollateral(user, weth).IsZero())
	assert.Equal(t, uint64(9), bt.GetSurplus(weth).Uint64())
	assert.Equal(t, uint64(100), bt.GetCollateral(liquidator, weth).Uint64())
}

func TestPlanSettlement_Backstop_BelowPayout(t *testing.T) {
	plan, bt, err := settle(t, 500, 600)
	require.NoError(t, err)

	assert.Equal(t, state.BranchSurplusBackstop, plan.Branch)
	assert.Equal(t, uint64(600), plan.SurplusDraw.Uint64())
	assert.True(t, bt.GetSurplus(weth).IsZero())
	assert.Equal(t, uint64(100), bt.GetCollateral(liquidator, weth).Uint64())
}

func TestPlanSettlement_Backstop_BufferShort(t *testing.T) {
	_, bt, err := settle(t, 500, 599)
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrInsufficientSurplusBuffer)

	var sbe *state.InsufficientSurplusBufferError
	require.ErrorAs(t, err, &sbe)
	assert.Equal(t, uint64(600), sbe.Shortfall.Uint64())
	assert.Equal(t, uint64(599), sbe.Available.Uint64())

	// planning never mutates
	assert.Equal(t, uint64(500), bt.GetCollateral(user, weth).Uint64())
}

func TestPlanSettlement_SelfLiquidationSkipsInternalLeg(t *testing.T) {
	tm := terms(t)
	bt := ledger.NewBalanceTracker()
	bt.SetBalance(ledger.NewUserAccountKey(user, ledger.SubTypeCollateral, weth), u(5000))
	plan, err := state.PlanSettlement(user, user, weth, tm, u(5000), state.NewSurplusBuffer(bt))
	require.NoError(t, err)
	for _, l := range plan.Legs {
		assert.NotEqual(t, l.From, l.To)
	}

	// payout 1000 + skim 50; the bonus stays in the user's own account
	assert.Equal(t, state.BranchFullSkim, plan.Branch)
	assert.Equal(t, uint64(1050), plan.UserDebit.Uint64())
	assert.Equal(t, uint64(1050), plan.CollateralMoved().Uint64())

	gen := ledger.NewJournalGenerator(unit)
	require.NoError(t, bt.ApplyBatch(gen.Append(gen.NewBatch("self", 1, 0), plan.Legs...)))
	assert.Equal(t, uint64(5000)-plan.UserDebit.Uint64(), bt.GetCollateral(user, weth).Uint64())
}

func TestPlanSettlement_UserDebitMatchesLedger(t *testing.T) {
	for _, coll := range []uint64{5000, 1150, 1149, 1100, 1099, 500} {
		plan, bt, err := settle(t, coll, 10_000)
		require.NoError(t, err, "collateral %d", coll)
		assert.Equal(t, coll-bt.GetCollateral(user, weth).Uint64(), plan.UserDebit.Uint64(), "collateral %d", coll)
	}
}
