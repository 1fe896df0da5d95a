package event

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositCollateral
	EventTypeMintUnit
	EventTypeDepositAndMint
	EventTypeRedeemCollateral
	EventTypeBurnUnit
	EventTypeRedeemAndBurn
	EventTypeLiquidate
	EventTypeDepositSurplus
)

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream (the command's request id)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Address that submitted the command
	Caller common.Address

	// Time the core applied the command
	Timestamp time.Time

	// JSON-encoded records emitted by the command
	Payload []byte

	// keccak256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Origin returns the address the command acts as
	Origin() common.Address
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositCollateral:
		return "DepositCollateral"
	case EventTypeMintUnit:
		return "MintUnit"
	case EventTypeDepositAndMint:
		return "DepositAndMint"
	case EventTypeRedeemCollateral:
		return "RedeemCollateral"
	case EventTypeBurnUnit:
		return "BurnUnit"
	case EventTypeRedeemAndBurn:
		return "RedeemAndBurn"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeDepositSurplus:
		return "DepositSurplus"
	default:
		return "Unknown"
	}
}

// Subject is the NATS subject token for the type, e.g. "deposit_collateral".
func (et EventType) Subject() string {
	switch et {
	case EventTypeDepositCollateral:
		return "deposit_collateral"
	case EventTypeMintUnit:
		return "mint_unit"
	case EventTypeDepositAndMint:
		return "deposit_and_mint"
	case EventTypeRedeemCollateral:
		return "redeem_collateral"
	case EventTypeBurnUnit:
		return "burn_unit"
	case EventTypeRedeemAndBurn:
		return "redeem_and_burn"
	case EventTypeLiquidate:
		return "liquidate"
	case EventTypeDepositSurplus:
		return "deposit_surplus"
	default:
		return "unknown"
	}
}

// ParseEventType accepts either the String or the Subject form.
func ParseEventType(s string) (EventType, error) {
	for et := EventTypeDepositCollateral; et <= EventTypeDepositSurplus; et++ {
		if s == et.String() || s == et.Subject() {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type %q", s)
}
