package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustody verifies the engine physically holds at least what the
// ledger says it owes for asset (users' collateral plus surplus).
func (v *InvariantValidator) ValidateCustody(asset common.Address, custody *uint256.Int) error {
	recorded := v.tracker.TotalRecorded(asset)
	if custody.Lt(recorded) {
		return fmt.Errorf("custody for %s is %s, ledger records %s",
			asset.Hex(), custody.Dec(), recorded.Dec())
	}
	return nil
}

// ValidateNoOrphanDebt verifies every debt balance belongs to unit.
func (v *InvariantValidator) ValidateNoOrphanDebt(unit common.Address) error {
	for key, balance := range v.tracker.balances {
		if key.SubType == SubTypeDebt && key.Asset != unit {
			return fmt.Errorf("debt account %s holds %s outside the issued unit", key.AccountPath(), balance.Dec())
		}
	}
	return nil
}
