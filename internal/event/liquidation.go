package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Liquidate covers DebtToCover of User's debt, seizing Asset. Caller is the
// liquidator and pays with their own unit holdings.
type Liquidate struct {
	RequestID   uuid.UUID
	Caller      common.Address
	Asset       common.Address
	User        common.Address
	DebtToCover *uint256.Int
}

func (l *Liquidate) IdempotencyKey() string {
	return l.RequestID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) Origin() common.Address {
	return l.Caller
}
