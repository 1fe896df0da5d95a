package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientSurplusBuffer = errors.New("synth engine: surplus buffer cannot cover liquidation shortfall")

// InsufficientSurplusBufferError carries the shortfall a liquidation needed
// drawn from the buffer and what the buffer actually held.
type InsufficientSurplusBufferError struct {
	Asset     common.Address
	Shortfall *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientSurplusBufferError) Error() string {
	return fmt.Sprintf("%v: asset %s shortfall %s, buffer %s",
		ErrInsufficientSurplusBuffer, e.Asset.Hex(), e.Shortfall.Dec(), e.Available.Dec())
}

func (e *InsufficientSurplusBufferError) Is(target error) bool {
	return target == ErrInsufficientSurplusBuffer
}
