package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Leg is one value movement inside a batch: Amount leaves From and lands in To.
type Leg struct {
	From   AccountKey
	To     AccountKey
	Amount *uint256.Int
	Type   JournalType
}

// JournalGenerator creates balanced journal batches from engine operations
type JournalGenerator struct {
	unit common.Address
}

// NewJournalGenerator creates a generator; unit is the asset debt is denominated in.
func NewJournalGenerator(unit common.Address) *JournalGenerator {
	return &JournalGenerator{unit: unit}
}

// NewBatch starts an empty batch for one command.
func (jg *JournalGenerator) NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// Append adds one journal per non-zero leg to batch. Zero legs are dropped,
// they occur naturally at settlement boundaries.
func (jg *JournalGenerator) Append(batch *Batch, legs ...Leg) *Batch {
	for _, leg := range legs {
		if leg.Amount == nil || leg.Amount.IsZero() {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batch.BatchID,
			EventRef:      batch.EventRef,
			Sequence:      batch.Sequence,
			DebitAccount:  leg.To,
			CreditAccount: leg.From,
			Asset:         leg.To.Asset,
			Amount:        leg.Amount.Clone(),
			JournalType:   leg.Type,
			Timestamp:     batch.Timestamp,
		})
	}
	return batch
}

// DepositLeg moves collateral from the outside world into user custody.
// external:transfers → user:collateral
func (jg *JournalGenerator) DepositLeg(user, asset common.Address, amount *uint256.Int) Leg {
	return Leg{
		From:   NewExternalAccountKey(SubTypeExternalTransfers, asset),
		To:     NewUserAccountKey(user, SubTypeCollateral, asset),
		Amount: amount,
		Type:   JournalTypeCollateralDeposit,
	}
}

// RedeemLeg releases user collateral to the outside world.
// user:collateral → external:transfers
func (jg *JournalGenerator) RedeemLeg(user, asset common.Address, amount *uint256.Int) Leg {
	return Leg{
		From:   NewUserAccountKey(user, SubTypeCollateral, asset),
		To:     NewExternalAccountKey(SubTypeExternalTransfers, asset),
		Amount: amount,
		Type:   JournalTypeCollateralRedeem,
	}
}

// MintLeg records newly issued debt.
// external:issuance → user:debt
func (jg *JournalGenerator) MintLeg(user common.Address, amount *uint256.Int) Leg {
	return Leg{
		From:   NewExternalAccountKey(SubTypeExternalIssuance, jg.unit),
		To:     NewUserAccountKey(user, SubTypeDebt, jg.unit),
		Amount: amount,
		Type:   JournalTypeDebtMint,
	}
}

// BurnLeg retires debt.
// user:debt → external:issuance
func (jg *JournalGenerator) BurnLeg(user common.Address, amount *uint256.Int) Leg {
	return Leg{
		From:   NewUserAccountKey(user, SubTypeDebt, jg.unit),
		To:     NewExternalAccountKey(SubTypeExternalIssuance, jg.unit),
		Amount: amount,
		Type:   JournalTypeDebtBurn,
	}
}

// SurplusDepositLeg tops up the surplus buffer.
// external:transfers → system:surplus
func (jg *JournalGenerator) SurplusDepositLeg(asset common.Address, amount *uint256.Int) Leg {
	return Leg{
		From:   NewExternalAccountKey(SubTypeExternalTransfers, asset),
		To:     NewSystemAccountKey(SubTypeSystemSurplus, asset),
		Amount: amount,
		Type:   JournalTypeSurplusDeposit,
	}
}
