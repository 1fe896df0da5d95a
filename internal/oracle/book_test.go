package oracle_test

import (
	"testing"
	"time"

	"SynthLedger/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteBook_EmptyIsZeroQuote(t *testing.T) {
	b := oracle.NewQuoteBook()
	q, err := b.LatestQuote(weth)
	require.NoError(t, err)
	assert.True(t, q.UpdatedAt.IsZero())
	assert.Nil(t, q.Price)
}

func TestQuoteBook_AcceptsNewerRounds(t *testing.T) {
	b := oracle.NewQuoteBook()

	assert.True(t, b.Update(weth, oracle.NewQuote(1, 2000_00000000, now)))
	assert.True(t, b.Update(weth, oracle.NewQuote(2, 1800_00000000, now.Add(time.Second))))

	q, _ := b.LatestQuote(weth)
	assert.Equal(t, int64(1800_00000000), q.Price.Int64())
	assert.Equal(t, uint64(2), q.RoundID)
}

func TestQuoteBook_IgnoresStaleRounds(t *testing.T) {
	b := oracle.NewQuoteBook()
	b.Update(weth, oracle.NewQuote(5, 2000_00000000, now))

	assert.False(t, b.Update(weth, oracle.NewQuote(5, 1_00000000, now.Add(time.Second))), "same round is a redelivery")
	assert.False(t, b.Update(weth, oracle.NewQuote(4, 1_00000000, now.Add(time.Second))))
	assert.False(t, b.Update(weth, oracle.NewQuote(6, 1_00000000, now.Add(-time.Second))), "older timestamp")

	q, _ := b.LatestQuote(weth)
	assert.Equal(t, int64(2000_00000000), q.Price.Int64())
	assert.Equal(t, int64(3), b.Stats(weth).Stale)
}

func TestQuoteBook_ToleratesGaps(t *testing.T) {
	b := oracle.NewQuoteBook()
	b.Update(weth, oracle.NewQuote(1, 2000_00000000, now))
	require.True(t, b.Update(weth, oracle.NewQuote(9, 2100_00000000, now.Add(time.Minute))))

	st := b.Stats(weth)
	assert.Equal(t, int64(2), st.Accepted)
	assert.Equal(t, int64(1), st.RoundGaps)
}

func TestQuoteBook_ReturnsCopies(t *testing.T) {
	b := oracle.NewQuoteBook()
	b.Update(weth, oracle.NewQuote(1, 2000_00000000, now))

	q, _ := b.LatestQuote(weth)
	q.Price.SetInt64(1)

	again, _ := b.LatestQuote(weth)
	assert.Equal(t, int64(2000_00000000), again.Price.Int64())
}
