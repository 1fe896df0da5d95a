package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32 // Number of fractional digits
	Scale            *uint256.Int
}

var (
	// AmountConfig covers collateral, debt, and USD values (wei-style, 18 digits)
	AmountConfig = DecimalConfig{DecimalPrecision: 18, Scale: uint256.NewInt(1_000_000_000_000_000_000)}
	// FeedConfig is the precision oracle feeds publish prices in
	FeedConfig = DecimalConfig{DecimalPrecision: 8, Scale: uint256.NewInt(100_000_000)}
)

var (
	// Precision is one whole unit at AmountConfig scale.
	Precision = uint256.NewInt(1_000_000_000_000_000_000)

	// AdditionalFeedPrecision lifts an 8-digit feed price to 18 digits.
	AdditionalFeedPrecision = uint256.NewInt(10_000_000_000)

	// MaxUint256 is used as the health factor of a debt-free position.
	MaxUint256 = new(uint256.Int).SetAllOne()
)

var (
	ErrOverflow       = errors.New("fixedpoint: arithmetic overflow")
	ErrDivideByZero   = errors.New("fixedpoint: division by zero")
	ErrNegativeAmount = errors.New("fixedpoint: negative amount")
	ErrPrecisionLoss  = errors.New("fixedpoint: more than 18 fractional digits")
)

// Zero returns a fresh zero value. Callers may mutate it.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Units returns n whole units at 18-digit precision (Units(3) == 3e18).
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Precision)
}

// MulDiv returns floor(x * y / d). The 512-bit intermediate never overflows;
// only a result that does not fit in 256 bits is reported.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// CheckedMul returns x * y, or ErrOverflow when the product wraps.
func CheckedMul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// CheckedAdd returns x + y, or ErrOverflow when the sum wraps.
func CheckedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// CheckedSub returns x - y, or ErrNegativeAmount when y > x.
func CheckedSub(x, y *uint256.Int) (*uint256.Int, error) {
	if x.Lt(y) {
		return nil, ErrNegativeAmount
	}
	return new(uint256.Int).Sub(x, y), nil
}

// Min returns a copy of the smaller operand.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

// ToDecimal converts an 18-digit amount into a decimal for display.
func ToDecimal(x *uint256.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -AmountConfig.DecimalPrecision)
}

// FormatAmount renders an amount in whole units, e.g. "1500" or "0.555555555555555555".
func FormatAmount(x *uint256.Int) string {
	return ToDecimal(x).String()
}

// FromDecimal converts a whole-unit decimal into its 18-digit representation.
// Amounts with more than 18 fractional digits are rejected rather than truncated.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	scaled := d.Shift(AmountConfig.DecimalPrecision)
	if !scaled.IsInteger() {
		return nil, ErrPrecisionLoss
	}
	z, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// ParseAmount parses a whole-unit decimal string ("1.5") into 18-digit fixed point.
func ParseAmount(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// ParseFeedPrice parses a whole-dollar price ("2000.5") into the signed 8-digit
// integer a price feed publishes. Sign is preserved so the oracle adapter can
// reject non-positive prices itself.
func ParseFeedPrice(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", s, err)
	}
	scaled := d.Shift(FeedConfig.DecimalPrecision)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("parse price %q: more than %d fractional digits", s, FeedConfig.DecimalPrecision)
	}
	return scaled.BigInt(), nil
}

// FormatFeedPrice renders an 8-digit feed price in dollars.
func FormatFeedPrice(p *big.Int) string {
	if p == nil {
		return "0"
	}
	return decimal.NewFromBigInt(p, -FeedConfig.DecimalPrecision).String()
}
