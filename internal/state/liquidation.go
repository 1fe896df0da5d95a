package state

import (
	"SynthLedger/internal/ledger"
	fp "SynthLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	LiquidationBonusDivisor = 10 // bonus = collateralFromDebt / 10
	SurplusSkimDivisor      = 2  // skim = bonus / 2
)

// SettlementBranch identifies which of the three settlement paths ran
type SettlementBranch uint8

const (
	// BranchSurplusBackstop: the user cannot cover the liquidator's take;
	// the buffer pays the shortfall.
	BranchSurplusBackstop SettlementBranch = iota + 1
	// BranchPartialSkim: the user covers the take but not the full skim.
	BranchPartialSkim
	// BranchFullSkim: the user covers take and skim.
	BranchFullSkim
)

func (b SettlementBranch) String() string {
	switch b {
	case BranchSurplusBackstop:
		return "surplus_backstop"
	case BranchPartialSkim:
		return "partial_skim"
	case BranchFullSkim:
		return "full_skim"
	default:
		return "unknown"
	}
}

// SettlementTerms are the asset-denominated amounts derived from the
// covered debt, before looking at what the user actually holds.
type SettlementTerms struct {
	CollateralFromDebt *uint256.Int
	Bonus              *uint256.Int
	LiquidatorTake     *uint256.Int
	SurplusSkim        *uint256.Int
	TotalOwed          *uint256.Int
}

// ComputeTerms derives bonus, take, skim and total owed from collateralFromDebt.
func ComputeTerms(collateralFromDebt *uint256.Int) (SettlementTerms, error) {
	bonus := new(uint256.Int).Div(collateralFromDebt, uint256.NewInt(LiquidationBonusDivisor))
	take, err := fp.CheckedAdd(collateralFromDebt, bonus)
	if err != nil {
		return SettlementTerms{}, err
	}
	skim := new(uint256.Int).Div(bonus, uint256.NewInt(SurplusSkimDivisor))
	owed, err := fp.CheckedAdd(take, skim)
	if err != nil {
		return SettlementTerms{}, err
	}
	return SettlementTerms{
		CollateralFromDebt: collateralFromDebt.Clone(),
		Bonus:              bonus,
		LiquidatorTake:     take,
		SurplusSkim:        skim,
		TotalOwed:          owed,
	}, nil
}

// SettlementPlan is the full outcome of one liquidation settlement,
// expressed as ledger legs plus the external payout.
type SettlementPlan struct {
	Branch         SettlementBranch
	Terms          SettlementTerms
	UserCollateral *uint256.Int // user's balance before settlement

	UserDebit     *uint256.Int // total removed from the user's balance
	SurplusCredit *uint256.Int // added to the buffer (branches 2 and 3)
	SurplusDraw   *uint256.Int // taken from the buffer (branch 1)
	Payout        *uint256.Int // transferred out of custody to the liquidator

	Legs []ledger.Leg
}

// CollateralMoved is everything that left the user and the buffer.
func (p *SettlementPlan) CollateralMoved() *uint256.Int {
	return new(uint256.Int).Add(p.UserDebit, p.SurplusDraw)
}

// PlanSettlement decides the branch and builds the ledger legs for a
// liquidation of user by liquidator in asset.
//
// In every branch the liquidator gets collateralFromDebt as an external
// payout and bonus as a ledger credit, so the tracked total for asset
// falls by exactly collateralFromDebt, matching custody.
//
// Boundaries: userCollateral == take is branch 2 with a zero skim;
// userCollateral == totalOwed is branch 3.
func PlanSettlement(
	user, liquidator, asset common.Address,
	terms SettlementTerms,
	userCollateral *uint256.Int,
	surplus *SurplusBuffer,
) (*SettlementPlan, error) {
	userKey := ledger.NewUserAccountKey(user, ledger.SubTypeCollateral, asset)
	liqKey := ledger.NewUserAccountKey(liquidator, ledger.SubTypeCollateral, asset)
	bufKey := ledger.NewSystemAccountKey(ledger.SubTypeSystemSurplus, asset)
	extKey := ledger.NewExternalAccountKey(ledger.SubTypeExternalTransfers, asset)

	cfd := terms.CollateralFromDebt
	plan := &SettlementPlan{
		Terms:          terms,
		UserCollateral: userCollateral.Clone(),
		UserDebit:      fp.Zero(),
		SurplusCredit:  fp.Zero(),
		SurplusDraw:    fp.Zero(),
		Payout:         cfd.Clone(),
	}

	// UserDebit is summed from emitted legs; a self-liquidation drops the
	// user->liquidator bonus leg and must not report it as moved.
	leg := func(from, to ledger.AccountKey, amount *uint256.Int, jt ledger.JournalType) {
		if amount.IsZero() || from == to {
			return
		}
		plan.Legs = append(plan.Legs, ledger.Leg{From: from, To: to, Amount: amount, Type: jt})
		if from == userKey {
			plan.UserDebit.Add(plan.UserDebit, amount)
		}
	}

	switch {
	case terms.LiquidatorTake.Gt(userCollateral):
		shortfall := new(uint256.Int).Sub(terms.LiquidatorTake, userCollateral)
		if err := surplus.RequireCover(asset, shortfall); err != nil {
			return nil, err
		}
		plan.Branch = BranchSurplusBackstop
		plan.SurplusDraw = shortfall

		if !userCollateral.Lt(cfd) {
			// user pays the whole payout and part of the bonus
			leg(userKey, extKey, cfd, ledger.JournalTypeLiquidationPayout)
			leg(userKey, liqKey, new(uint256.Int).Sub(userCollateral, cfd), ledger.JournalTypeLiquidationBonus)
			leg(bufKey, liqKey, shortfall, ledger.JournalTypeSurplusDraw)
		} else {
			// user cannot even pay the payout; buffer tops it up and pays the bonus
			leg(userKey, extKey, userCollateral, ledger.JournalTypeLiquidationPayout)
			leg(bufKey, extKey, new(uint256.Int).Sub(cfd, userCollateral), ledger.JournalTypeSurplusDraw)
			leg(bufKey, liqKey, terms.Bonus, ledger.JournalTypeSurplusDraw)
		}

	case terms.TotalOwed.Gt(userCollateral):
		plan.Branch = BranchPartialSkim
		plan.SurplusCredit = new(uint256.Int).Sub(userCollateral, terms.LiquidatorTake)

		leg(userKey, extKey, cfd, ledger.JournalTypeLiquidationPayout)
		leg(userKey, liqKey, terms.Bonus, ledger.JournalTypeLiquidationBonus)
		leg(userKey, bufKey, plan.SurplusCredit, ledger.JournalTypeSurplusSkim)

	default:
		plan.Branch = BranchFullSkim
		plan.SurplusCredit = terms.SurplusSkim.Clone()

		leg(userKey, extKey, cfd, ledger.JournalTypeLiquidationPayout)
		leg(userKey, liqKey, terms.Bonus, ledger.JournalTypeLiquidationBonus)
		leg(userKey, bufKey, terms.SurplusSkim, ledger.JournalTypeSurplusSkim)
	}

	return plan, nil
}
