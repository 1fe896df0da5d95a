package core

import (
	"errors"
	"fmt"

	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrAmountZero        = errors.New("synth engine: amount must be greater than zero")
	ErrAssetNotAllowed   = errors.New("synth engine: asset is not registered collateral")
	ErrTransferFailed    = errors.New("synth engine: token transfer failed")
	ErrMintFailed        = errors.New("synth engine: unit mint failed")
	ErrBurnFailed        = errors.New("synth engine: unit burn failed")
	ErrReentrantCall     = errors.New("synth engine: reentrant call")
	ErrUnknownCommand    = errors.New("synth engine: unknown command")
	ErrMissingCollateral = errors.New("synth engine: no token bound to registered asset")

	// ErrIdempotencyUnavailable: the durable dedup lookup failed, so the
	// command was not applied. Safe to retry with the same request id.
	ErrIdempotencyUnavailable = errors.New("synth engine: idempotency store unavailable")

	ErrHealthFactorBroken      = errors.New("synth engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("synth engine: health factor ok, position not liquidatable")
	ErrDebtExceedsOwed         = errors.New("synth engine: amount exceeds outstanding debt")
	ErrInsufficientCollateral  = errors.New("synth engine: amount exceeds deposited collateral")
	ErrInsufficientCustody     = errors.New("synth engine: custody below recorded balances")
	ErrHealthFactorNotImproved = errors.New("synth engine: liquidation did not improve health factor")

	// ErrInsufficientSurplusBuffer is raised by settlement planning.
	ErrInsufficientSurplusBuffer = state.ErrInsufficientSurplusBuffer
)

// InsufficientSurplusBufferError is defined next to the settlement planner.
type InsufficientSurplusBufferError = state.InsufficientSurplusBufferError

// HealthFactorBrokenError is returned when an operation would leave the
// acting user (or a liquidator) below the minimum health factor.
type HealthFactorBrokenError struct {
	User   common.Address
	Actual *uint256.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("%v: %s at %s", ErrHealthFactorBroken, e.User.Hex(), e.Actual.Dec())
}

func (e *HealthFactorBrokenError) Is(target error) bool { return target == ErrHealthFactorBroken }

// HealthFactorOkError is returned when liquidating a solvent position.
type HealthFactorOkError struct {
	User    common.Address
	Current *uint256.Int
}

func (e *HealthFactorOkError) Error() string {
	return fmt.Sprintf("%v: %s at %s", ErrHealthFactorOk, e.User.Hex(), e.Current.Dec())
}

func (e *HealthFactorOkError) Is(target error) bool { return target == ErrHealthFactorOk }

// DebtExceedsOwedError is returned by burn and liquidate.
type DebtExceedsOwedError struct {
	Requested *uint256.Int
	Owed      *uint256.Int
}

func (e *DebtExceedsOwedError) Error() string {
	return fmt.Sprintf("%v: requested %s, owed %s", ErrDebtExceedsOwed, e.Requested.Dec(), e.Owed.Dec())
}

func (e *DebtExceedsOwedError) Is(target error) bool { return target == ErrDebtExceedsOwed }

type InsufficientUserCollateralError struct {
	Asset     common.Address
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientUserCollateralError) Error() string {
	return fmt.Sprintf("%v: %s requested %s, deposited %s",
		ErrInsufficientCollateral, e.Asset.Hex(), e.Requested.Dec(), e.Available.Dec())
}

func (e *InsufficientUserCollateralError) Is(target error) bool {
	return target == ErrInsufficientCollateral
}

// InsufficientContractBalanceError: the engine's token balance cannot honor
// a redemption, or is already below what the ledger records.
type InsufficientContractBalanceError struct {
	Asset    common.Address
	Custody  *uint256.Int
	Required *uint256.Int
}

func (e *InsufficientContractBalanceError) Error() string {
	return fmt.Sprintf("%v: %s custody %s, required %s",
		ErrInsufficientCustody, e.Asset.Hex(), e.Custody.Dec(), e.Required.Dec())
}

func (e *InsufficientContractBalanceError) Is(target error) bool {
	return target == ErrInsufficientCustody
}

type HealthFactorNotImprovedError struct {
	Before *uint256.Int
	After  *uint256.Int
}

func (e *HealthFactorNotImprovedError) Error() string {
	return fmt.Sprintf("%v: before %s, after %s", ErrHealthFactorNotImproved, e.Before.Dec(), e.After.Dec())
}

func (e *HealthFactorNotImprovedError) Is(target error) bool {
	return target == ErrHealthFactorNotImproved
}

// RejectReason classifies an engine error for metrics and logs.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAmountZero), errors.Is(err, ErrAssetNotAllowed), errors.Is(err, ErrUnknownCommand):
		return "input"
	case errors.Is(err, ErrHealthFactorBroken), errors.Is(err, ErrHealthFactorOk),
		errors.Is(err, ErrDebtExceedsOwed), errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, ErrInsufficientCustody):
		return "solvency"
	case errors.Is(err, ErrInsufficientSurplusBuffer):
		return "reserve"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "postcondition"
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrMintFailed), errors.Is(err, ErrBurnFailed):
		return "external"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ErrIdempotencyUnavailable):
		return "unavailable"
	case errors.Is(err, oracle.ErrOracleStale), errors.Is(err, oracle.ErrOraclePriceInvalid),
		errors.Is(err, oracle.ErrConversionOverflow):
		return "oracle"
	default:
		return "internal"
	}
}
