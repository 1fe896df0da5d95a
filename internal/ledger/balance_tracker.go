package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// BalanceTracker maintains in-memory account balances. Balances are
// unsigned; a journal that would drive a tracked account below zero is
// refused before anything is mutated.
// Not thread-safe: only accessed from the sequencer goroutine.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	return bt.move(j.DebitAccount, j.CreditAccount, j.Amount)
}

// RevertJournal undoes a previously applied journal entry
func (bt *BalanceTracker) RevertJournal(j Journal) error {
	return bt.move(j.CreditAccount, j.DebitAccount, j.Amount)
}

func (bt *BalanceTracker) move(to, from AccountKey, amount *uint256.Int) error {
	if from.Tracked() {
		have := bt.GetBalance(from)
		if have.Lt(amount) {
			return fmt.Errorf("%w: account %s has %s, needs %s",
				ErrInsufficientBalance, from.AccountPath(), have.Dec(), amount.Dec())
		}
		bt.set(from, have.Sub(have, amount))
	}
	if to.Tracked() {
		have := bt.GetBalance(to)
		bt.set(to, have.Add(have, amount))
	}
	return nil
}

// ApplyBatch applies all journals in a batch. Either every journal applies
// or none does.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for i, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			for k := i - 1; k >= 0; k-- {
				if rerr := bt.RevertJournal(batch.Journals[k]); rerr != nil {
					panic(fmt.Sprintf("FATAL: cannot unwind partially applied batch %s: %v", batch.BatchID, rerr))
				}
			}
			return err
		}
	}

	return nil
}

// RevertBatch undoes an applied batch, last journal first.
func (bt *BalanceTracker) RevertBatch(batch *Batch) error {
	for i := len(batch.Journals) - 1; i >= 0; i-- {
		if err := bt.RevertJournal(batch.Journals[i]); err != nil {
			return fmt.Errorf("revert batch %s: %w", batch.BatchID, err)
		}
	}
	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// SetBalance overwrites a balance. Used by snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, v *uint256.Int) {
	bt.set(key, v.Clone())
}

func (bt *BalanceTracker) set(key AccountKey, v *uint256.Int) {
	if v.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = v
}

// === Account Queries ===

// GetCollateral returns a user's recorded collateral in asset
func (bt *BalanceTracker) GetCollateral(user, asset common.Address) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(user, SubTypeCollateral, asset))
}

// GetDebt returns a user's outstanding debt in the issued unit
func (bt *BalanceTracker) GetDebt(user, unit common.Address) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(user, SubTypeDebt, unit))
}

// GetSurplus returns the protocol surplus buffer for asset
func (bt *BalanceTracker) GetSurplus(asset common.Address) *uint256.Int {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemSurplus, asset))
}

// TotalRecorded sums every tracked balance held in asset: all user
// collateral plus the surplus buffer. This is what custody must cover.
func (bt *BalanceTracker) TotalRecorded(asset common.Address) *uint256.Int {
	total := new(uint256.Int)
	for key, balance := range bt.balances {
		if key.Asset != asset || key.SubType == SubTypeDebt {
			continue
		}
		total.Add(total, balance)
	}
	return total
}

// TotalDebt sums outstanding debt across all users
func (bt *BalanceTracker) TotalDebt(unit common.Address) *uint256.Int {
	total := new(uint256.Int)
	for key, balance := range bt.balances {
		if key.SubType == SubTypeDebt && key.Asset == unit {
			total.Add(total, balance)
		}
	}
	return total
}

// Users returns every address holding a user account
func (bt *BalanceTracker) Users() []common.Address {
	seen := make(map[common.Address]struct{})
	out := make([]common.Address, 0)
	for key := range bt.balances {
		if key.Scope != AccountScopeUser {
			continue
		}
		if _, ok := seen[key.Owner]; ok {
			continue
		}
		seen[key.Owner] = struct{}{}
		out = append(out, key.Owner)
	}
	return out
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}
