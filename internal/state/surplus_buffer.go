package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SurplusBuffer is the protocol-owned per-asset reserve that backs
// liquidations the user's collateral cannot pay for.
// The balance lives in the ledger (system:surplus:<asset>); this type
// reads it and decides whether a draw is possible.
type SurplusBuffer struct {
	balances interface {
		GetSurplus(asset common.Address) *uint256.Int
	}
}

func NewSurplusBuffer(bt interface {
	GetSurplus(asset common.Address) *uint256.Int
}) *SurplusBuffer {
	return &SurplusBuffer{balances: bt}
}

// Level returns the buffer balance for asset.
func (sb *SurplusBuffer) Level(asset common.Address) *uint256.Int {
	return sb.balances.GetSurplus(asset)
}

// CanCover checks if the buffer holds at least shortfall.
func (sb *SurplusBuffer) CanCover(asset common.Address, shortfall *uint256.Int) bool {
	return !sb.Level(asset).Lt(shortfall)
}

// RequireCover returns an InsufficientSurplusBufferError when the buffer is short.
func (sb *SurplusBuffer) RequireCover(asset common.Address, shortfall *uint256.Int) error {
	level := sb.Level(asset)
	if level.Lt(shortfall) {
		return &InsufficientSurplusBufferError{
			Asset:     asset,
			Shortfall: shortfall.Clone(),
			Available: level,
		}
	}
	return nil
}
