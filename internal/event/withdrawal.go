package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// RedeemCollateral releases Amount of Asset back to Caller
type RedeemCollateral struct {
	RequestID uuid.UUID
	Caller    common.Address
	Asset     common.Address
	Amount    *uint256.Int // Fixed-point
}

func (r *RedeemCollateral) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RedeemCollateral) EventType() EventType {
	return EventTypeRedeemCollateral
}

func (r *RedeemCollateral) Origin() common.Address {
	return r.Caller
}

// RedeemAndBurn burns BurnAmount of debt, then redeems Amount of Asset
type RedeemAndBurn struct {
	RequestID  uuid.UUID
	Caller     common.Address
	Asset      common.Address
	Amount     *uint256.Int
	BurnAmount *uint256.Int
}

func (r *RedeemAndBurn) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RedeemAndBurn) EventType() EventType {
	return EventTypeRedeemAndBurn
}

func (r *RedeemAndBurn) Origin() common.Address {
	return r.Caller
}
