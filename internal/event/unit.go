package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MintUnit issues Amount of the unit to Caller against their collateral
type MintUnit struct {
	RequestID uuid.UUID
	Caller    common.Address
	Amount    *uint256.Int
}

func (m *MintUnit) IdempotencyKey() string {
	return m.RequestID.String()
}

func (m *MintUnit) EventType() EventType {
	return EventTypeMintUnit
}

func (m *MintUnit) Origin() common.Address {
	return m.Caller
}

// BurnUnit repays Amount of Caller's debt from Caller's unit holdings
type BurnUnit struct {
	RequestID uuid.UUID
	Caller    common.Address
	Amount    *uint256.Int
}

func (b *BurnUnit) IdempotencyKey() string {
	return b.RequestID.String()
}

func (b *BurnUnit) EventType() EventType {
	return EventTypeBurnUnit
}

func (b *BurnUnit) Origin() common.Address {
	return b.Caller
}
