package oracle_test

import (
	"math/big"
	"testing"
	"time"

	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	wbtc = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	now  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return now }

func adapterWith(q oracle.Quote) *oracle.Adapter {
	return oracle.NewAdapter(oracle.StaticFeed{weth: q}, fixedClock)
}

func TestUsdPrice_ScalesFeedPrecision(t *testing.T) {
	a := adapterWith(oracle.NewQuote(1, 2000_00000000, now.Add(-time.Minute)))

	price, err := a.UsdPrice(weth)
	require.NoError(t, err)
	assert.Equal(t, fpmath.Units(2000).Dec(), price.Dec())
}

func TestQuoteUsd(t *testing.T) {
	a := adapterWith(oracle.NewQuote(1, 2000_00000000, now))

	usd, err := a.QuoteUsd(weth, uint256.NewInt(15e17)) // 1.5 ETH
	require.NoError(t, err)
	assert.Equal(t, fpmath.Units(3000).Dec(), usd.Dec())
}

func TestAssetForUsd(t *testing.T) {
	a := adapterWith(oracle.NewQuote(1, 2000_00000000, now))

	amount, err := a.AssetForUsd(weth, fpmath.Units(100))
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", amount.Dec()) // 0.05 ETH
}

func TestRoundTrip_WithinRounding(t *testing.T) {
	prices := []int64{1, 1800_00000000, 2000_00000000, 65_432_12345678}
	amounts := []*uint256.Int{
		uint256.NewInt(1),
		uint256.NewInt(123_456_789),
		fpmath.Units(1),
		fpmath.Units(7_777_777),
	}

	for _, p := range prices {
		a := adapterWith(oracle.NewQuote(1, p, now))
		price, err := a.UsdPrice(weth)
		require.NoError(t, err)
		// two floor divisions lose at most one price step plus one unit
		tolerance := new(uint256.Int).Div(fpmath.Precision, price)
		tolerance.AddUint64(tolerance, 1)

		for _, amt := range amounts {
			usd, err := a.QuoteUsd(weth, amt)
			require.NoError(t, err)
			back, err := a.AssetForUsd(weth, usd)
			require.NoError(t, err)

			require.False(t, back.Gt(amt), "round trip must not mint value: price=%d amount=%s back=%s", p, amt.Dec(), back.Dec())
			diff := new(uint256.Int).Sub(amt, back)
			assert.False(t, diff.Gt(tolerance), "price=%d amount=%s back=%s", p, amt.Dec(), back.Dec())
		}
	}
}

func TestStaleness(t *testing.T) {
	tests := []struct {
		name      string
		updatedAt time.Time
		wantErr   error
	}{
		{"fresh", now.Add(-59 * time.Minute), nil},
		{"exactly at window", now.Add(-oracle.StalenessWindow), nil},
		{"one second past window", now.Add(-oracle.StalenessWindow - time.Second), oracle.ErrOracleStale},
		{"never published", time.Time{}, oracle.ErrOracleStale},
		{"unix epoch", time.Unix(0, 0), oracle.ErrOracleStale},
		{"future", now.Add(time.Minute), oracle.ErrOracleStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := adapterWith(oracle.Quote{RoundID: 1, Price: big.NewInt(2000_00000000), UpdatedAt: tt.updatedAt})
			_, err := a.QuoteUsd(weth, fpmath.Units(1))
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestInvalidPrice(t *testing.T) {
	for _, p := range []*big.Int{big.NewInt(0), big.NewInt(-1), nil} {
		a := adapterWith(oracle.Quote{RoundID: 1, Price: p, UpdatedAt: now})
		_, err := a.UsdPrice(weth)
		assert.ErrorIs(t, err, oracle.ErrOraclePriceInvalid)
	}
}

func TestConversionOverflow(t *testing.T) {
	a := adapterWith(oracle.NewQuote(1, 2000_00000000, now))

	_, err := a.QuoteUsd(weth, fpmath.MaxUint256)
	assert.ErrorIs(t, err, oracle.ErrConversionOverflow)

	_, err = a.AssetForUsd(weth, fpmath.MaxUint256)
	assert.ErrorIs(t, err, oracle.ErrConversionOverflow)

	huge := new(big.Int).Lsh(big.NewInt(1), 250)
	b := adapterWith(oracle.Quote{RoundID: 1, Price: huge, UpdatedAt: now})
	_, err = b.UsdPrice(weth)
	assert.ErrorIs(t, err, oracle.ErrConversionOverflow)
}

func TestUnregisteredFeedIsStale(t *testing.T) {
	a := adapterWith(oracle.NewQuote(1, 2000_00000000, now))
	_, err := a.UsdPrice(wbtc)
	assert.ErrorIs(t, err, oracle.ErrOracleStale)
}

type countingObserver struct {
	ok, failed int
}

func (c *countingObserver) ObserveOracleRead(_ string, err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func TestObserverSeesEveryRead(t *testing.T) {
	obs := &countingObserver{}
	a := adapterWith(oracle.NewQuote(1, 2000_00000000, now)).
		WithObserver(obs, map[common.Address]string{weth: "WETH"})

	_, _ = a.QuoteUsd(weth, fpmath.Units(1))
	_, _ = a.UsdPrice(wbtc)

	assert.Equal(t, 1, obs.ok)
	assert.Equal(t, 1, obs.failed)
}
