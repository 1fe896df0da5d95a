package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DepositCollateral locks Amount of Asset from Caller into engine custody
type DepositCollateral struct {
	RequestID uuid.UUID
	Caller    common.Address
	Asset     common.Address
	Amount    *uint256.Int // 18-digit fixed point
}

func (d *DepositCollateral) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *DepositCollateral) EventType() EventType {
	return EventTypeDepositCollateral
}

func (d *DepositCollateral) Origin() common.Address {
	return d.Caller
}

// DepositAndMint deposits collateral and mints against it in one step
type DepositAndMint struct {
	RequestID  uuid.UUID
	Caller     common.Address
	Asset      common.Address
	Amount     *uint256.Int
	MintAmount *uint256.Int
}

func (d *DepositAndMint) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *DepositAndMint) EventType() EventType {
	return EventTypeDepositAndMint
}

func (d *DepositAndMint) Origin() common.Address {
	return d.Caller
}

// DepositSurplus is a voluntary top-up of the surplus buffer
type DepositSurplus struct {
	RequestID uuid.UUID
	Caller    common.Address
	Asset     common.Address
	Amount    *uint256.Int
}

func (d *DepositSurplus) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *DepositSurplus) EventType() EventType {
	return EventTypeDepositSurplus
}

func (d *DepositSurplus) Origin() common.Address {
	return d.Caller
}
