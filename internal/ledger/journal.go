package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollateralDeposit JournalType = iota
	JournalTypeCollateralRedeem
	JournalTypeDebtMint
	JournalTypeDebtBurn
	JournalTypeLiquidationPayout // seized collateral leaving custody to the liquidator
	JournalTypeLiquidationBonus  // bonus credited to the liquidator's ledger balance
	JournalTypeSurplusSkim
	JournalTypeSurplusDraw
	JournalTypeSurplusDeposit
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralDeposit:
		return "collateral_deposit"
	case JournalTypeCollateralRedeem:
		return "collateral_redeem"
	case JournalTypeDebtMint:
		return "debt_mint"
	case JournalTypeDebtBurn:
		return "debt_burn"
	case JournalTypeLiquidationPayout:
		return "liquidation_payout"
	case JournalTypeLiquidationBonus:
		return "liquidation_bonus"
	case JournalTypeSurplusSkim:
		return "surplus_skim"
	case JournalTypeSurplusDraw:
		return "surplus_draw"
	case JournalTypeSurplusDeposit:
		return "surplus_deposit"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID      // Unique identifier
	BatchID       uuid.UUID      // Groups balanced entries
	EventRef      string         // Idempotency key of source command
	Sequence      int64          // Global command sequence
	DebitAccount  AccountKey     // Account receiving debit (balance increases)
	CreditAccount AccountKey     // Account receiving credit (balance decreases)
	Asset         common.Address // Asset being transferred
	Amount        *uint256.Int   // 18-digit fixed point (ALWAYS positive)
	JournalType   JournalType    // Entry type
	Timestamp     int64          // Epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from credit to debit, so every entry
// is balanced on its own and so is any batch of them.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s moves value across assets", j.JournalID)
		}
	}

	return nil
}

// Merge appends other's journals into b, re-homing them under b's batch id.
// Used when one command composes several ledger steps.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	for _, j := range other.Journals {
		j.BatchID = b.BatchID
		j.EventRef = b.EventRef
		j.Sequence = b.Sequence
		b.Journals = append(b.Journals, j)
	}
}
