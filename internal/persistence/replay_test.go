package persistence_test

import (
	"context"
	"testing"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/testutil"
	"SynthLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLog serves logged commands from memory in place of Postgres.
type memLog struct {
	snap    *persistence.SnapshotData
	entries []persistence.ReplayEntry
}

func (m *memLog) LoadLatestSnapshot(context.Context) (*persistence.SnapshotData, error) {
	return m.snap, nil
}

func (m *memLog) LoadReplayFrom(_ context.Context, from int64, limit int) ([]persistence.ReplayEntry, error) {
	var out []persistence.ReplayEntry
	for _, e := range m.entries {
		if e.Sequence < from {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

type countingTokens struct {
	imported bool
	replayed int
}

func (c *countingTokens) Import(token.Holdings) error { c.imported = true; return nil }

func (c *countingTokens) Replay(records []event.Record) error {
	c.replayed += len(records)
	return nil
}

func entryFrom(out core.CoreOutput) persistence.ReplayEntry {
	return persistence.ReplayEntry{
		Sequence:       out.Envelope.Sequence,
		EventType:      out.Envelope.EventType.String(),
		IdempotencyKey: out.Envelope.IdempotencyKey,
		StateHash:      out.Envelope.StateHash,
		Records:        out.Records,
		Batch:          out.Batch,
	}
}

// history runs a short scripted workload and returns what it logged.
func history(t *testing.T) (*testutil.Fixture, []persistence.ReplayEntry) {
	t.Helper()
	f := testutil.NewFixture(t)
	f.Fund(t, testutil.Alice, testutil.WETH, 10)
	f.Fund(t, testutil.Bob, testutil.WBTC, 1)

	require.NoError(t, f.Engine.DepositAndMint(testutil.Alice, testutil.WETH, fpmath.Units(4), fpmath.Units(3000)))
	require.NoError(t, f.Engine.DepositCollateral(testutil.Bob, testutil.WBTC, fpmath.Units(1)))
	require.NoError(t, f.Engine.MintUnit(testutil.Bob, fpmath.Units(20000)))
	require.NoError(t, f.Engine.BurnUnit(testutil.Alice, fpmath.Units(1000)))
	require.NoError(t, f.Engine.RedeemCollateral(testutil.Alice, testutil.WETH, fpmath.Units(1)))

	var entries []persistence.ReplayEntry
	for {
		select {
		case out := <-f.Persisted:
			entries = append(entries, entryFrom(out))
		default:
			return f, entries
		}
	}
}

func TestRecover_FromGenesis(t *testing.T) {
	src, entries := history(t)
	require.Len(t, entries, 5)

	dst := testutil.NewFixture(t)
	tokens := &countingTokens{}
	res, err := persistence.Recover(context.Background(), &memLog{entries: entries}, dst.Engine, tokens, nil, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.SnapshotSequence)
	assert.Equal(t, int64(5), res.Replayed)
	assert.Equal(t, src.Engine.GetSequence(), res.NextSequence)
	assert.Equal(t, src.Engine.GetStateHash(), res.StateHash)
	assert.False(t, tokens.imported)
	assert.Positive(t, tokens.replayed)

	for _, user := range []struct{ who, asset common.Address }{
		{testutil.Alice, testutil.WETH},
		{testutil.Bob, testutil.WBTC},
	} {
		assert.Equal(t, src.Engine.CollateralBalance(user.who, user.asset).Dec(), dst.Engine.CollateralBalance(user.who, user.asset).Dec())
		assert.Equal(t, src.Engine.Debt(user.who).Dec(), dst.Engine.Debt(user.who).Dec())
	}
}

func TestRecover_SnapshotPlusTail(t *testing.T) {
	_, entries := history(t)

	// Build the snapshot by replaying the first three commands elsewhere.
	mid := testutil.NewFixture(t)
	_, err := persistence.Recover(context.Background(), &memLog{entries: entries[:3]}, mid.Engine, &countingTokens{}, nil, zerolog.Nop())
	require.NoError(t, err)

	snap := persistence.NewSnapshotData(mid.Engine.CreateSnapshotState(), token.Holdings{}, time.Now().UTC())
	require.Equal(t, int64(3), snap.Sequence)

	dst := testutil.NewFixture(t)
	tokens := &countingTokens{}
	res, err := persistence.Recover(context.Background(), &memLog{snap: snap, entries: entries}, dst.Engine, tokens, nil, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.SnapshotSequence)
	assert.Equal(t, int64(2), res.Replayed)
	assert.Equal(t, entries[4].StateHash, res.StateHash)
	assert.True(t, tokens.imported)
}

func TestRecover_DetectsTamperedHash(t *testing.T) {
	_, entries := history(t)
	entries[2].StateHash[0] ^= 0xff

	dst := testutil.NewFixture(t)
	_, err := persistence.Recover(context.Background(), &memLog{entries: entries}, dst.Engine, &countingTokens{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, persistence.ErrStateHashMismatch)
}

func TestRecover_DetectsGap(t *testing.T) {
	_, entries := history(t)
	entries = append(entries[:1], entries[2:]...)

	dst := testutil.NewFixture(t)
	_, err := persistence.Recover(context.Background(), &memLog{entries: entries}, dst.Engine, &countingTokens{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, persistence.ErrSequenceGap)
}

func TestSnapshotData_EngineStateRoundTrip(t *testing.T) {
	src, _ := history(t)
	st := src.Engine.CreateSnapshotState()

	back, err := persistence.NewSnapshotData(st, token.Holdings{}, time.Now()).EngineState()
	require.NoError(t, err)

	assert.Equal(t, st.Sequence, back.Sequence)
	assert.Equal(t, st.StateHash, back.StateHash)
	assert.ElementsMatch(t, st.IdempotencyKeys, back.IdempotencyKeys)

	nonZero := 0
	for key, bal := range st.Balances {
		if bal.IsZero() {
			continue
		}
		nonZero++
		require.Contains(t, back.Balances, key)
		assert.Equal(t, bal.Dec(), back.Balances[key].Dec())
	}
	assert.Len(t, back.Balances, nonZero)
}

func TestSnapshotData_RejectsBadHash(t *testing.T) {
	_, err := (&persistence.SnapshotData{Sequence: 7, StateHash: "zz"}).EngineState()
	assert.Error(t, err)
}
