package math_test

import (
	fpmath "SynthLedger/internal/math"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

// ============================================================================
// Test: MulDiv / checked arithmetic
// ============================================================================

func TestMulDiv_Floor(t *testing.T) {
	// 1000e18 * 1e18 / 1800e18 = 0.555...e18, floored
	got, err := fpmath.MulDiv(fpmath.Units(1000), fpmath.Precision, fpmath.Units(1800))
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	want := uint256.MustFromDecimal("555555555555555555")
	if !got.Eq(want) {
		t.Errorf("got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// x*y overflows 256 bits but the quotient fits
	x := new(uint256.Int).Rsh(fpmath.MaxUint256, 1)
	got, err := fpmath.MulDiv(x, uint256.NewInt(4), uint256.NewInt(4))
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if !got.Eq(x) {
		t.Errorf("got %s, want %s", got.Dec(), x.Dec())
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	_, err := fpmath.MulDiv(fpmath.MaxUint256, uint256.NewInt(2), uint256.NewInt(1))
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_DivideByZero(t *testing.T) {
	_, err := fpmath.MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0))
	if !errors.Is(err, fpmath.ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}

func TestCheckedSub_Underflow(t *testing.T) {
	_, err := fpmath.CheckedSub(uint256.NewInt(1), uint256.NewInt(2))
	if !errors.Is(err, fpmath.ErrNegativeAmount) {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestCheckedMul_Overflow(t *testing.T) {
	_, err := fpmath.CheckedMul(fpmath.MaxUint256, uint256.NewInt(2))
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// ============================================================================
// Test: decimal conversion
// ============================================================================

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"1500", "1500000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0.000000000000000001", "1"},
	}

	for _, tt := range tests {
		got, err := fpmath.ParseAmount(tt.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tt.in, err)
		}
		if got.Dec() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
		}
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	if _, err := fpmath.ParseAmount("-1"); !errors.Is(err, fpmath.ErrNegativeAmount) {
		t.Errorf("negative: expected ErrNegativeAmount, got %v", err)
	}
	if _, err := fpmath.ParseAmount("0.0000000000000000001"); !errors.Is(err, fpmath.ErrPrecisionLoss) {
		t.Errorf("19 digits: expected ErrPrecisionLoss, got %v", err)
	}
	if _, err := fpmath.ParseAmount("abc"); err == nil {
		t.Error("garbage input should fail")
	}
}

func TestFormatAmount(t *testing.T) {
	if got := fpmath.FormatAmount(fpmath.Units(1500)); got != "1500" {
		t.Errorf("got %q, want %q", got, "1500")
	}
	if got := fpmath.FormatAmount(uint256.NewInt(500_000_000_000_000_000)); got != "0.5" {
		t.Errorf("got %q, want %q", got, "0.5")
	}
}

func TestParseFeedPrice(t *testing.T) {
	p, err := fpmath.ParseFeedPrice("2000")
	if err != nil {
		t.Fatalf("ParseFeedPrice: %v", err)
	}
	if p.String() != "200000000000" {
		t.Errorf("got %s, want 200000000000", p.String())
	}

	neg, err := fpmath.ParseFeedPrice("-1")
	if err != nil {
		t.Fatalf("negative prices parse, the adapter rejects them: %v", err)
	}
	if neg.Sign() >= 0 {
		t.Errorf("sign lost: %s", neg.String())
	}
}
