package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSequencer(t *testing.T, f *testutil.Fixture) (*core.Sequencer, context.CancelFunc) {
	t.Helper()
	seq := core.NewSequencer(f.Engine, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = seq.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return seq, cancel
}

func TestSequencer_SerializesConcurrentSubmits(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Fund(t, alice, weth, 100)
	f.Fund(t, bob, weth, 100)
	seq, _ := startSequencer(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		for _, u := range []common.Address{alice, bob} {
			wg.Add(1)
			go func(caller common.Address) {
				defer wg.Done()
				_, err := seq.Submit(ctx, &event.DepositCollateral{
					RequestID: uuid.New(),
					Caller:    caller,
					Asset:     weth,
					Amount:    units(1),
				})
				errs <- err
			}(u)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	err := seq.View(ctx, func(e *core.Engine) error {
		assert.Equal(t, units(20).Dec(), e.CollateralBalance(alice, weth).Dec())
		assert.Equal(t, units(20).Dec(), e.CollateralBalance(bob, weth).Dec())
		assert.Equal(t, int64(41), e.GetSequence())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 40, f.Drain())
}

func TestSequencer_SubmitReturnsOutcome(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Fund(t, alice, weth, 1)
	seq, _ := startSequencer(t, f)
	ctx := context.Background()

	cmd := &event.DepositCollateral{RequestID: uuid.New(), Caller: alice, Asset: weth, Amount: units(1)}
	out, err := seq.Submit(ctx, cmd)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int64(1), out.Envelope.Sequence)

	dup, err := seq.Submit(ctx, cmd)
	require.NoError(t, err)
	assert.Nil(t, dup)

	_, err = seq.Submit(ctx, &event.MintUnit{RequestID: uuid.New(), Caller: alice, Amount: units(2000)})
	assert.ErrorIs(t, err, core.ErrHealthFactorBroken)
}

func TestSequencer_StoppedRefusesWork(t *testing.T) {
	f := testutil.NewFixture(t)
	seq, cancel := startSequencer(t, f)
	cancel()

	require.Eventually(t, func() bool {
		err := seq.View(context.Background(), func(*core.Engine) error { return nil })
		return err == core.ErrSequencerStopped
	}, time.Second, 10*time.Millisecond)
}

func TestSequencer_CallerContextCancelled(t *testing.T) {
	f := testutil.NewFixture(t)
	seq := core.NewSequencer(f.Engine, 1, zerolog.Nop())

	// not running: the queue fills and the caller gives up
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _ = seq.Submit(ctx, &event.MintUnit{RequestID: uuid.New(), Caller: alice, Amount: units(1)})
	_, err := seq.Submit(ctx, &event.MintUnit{RequestID: uuid.New(), Caller: alice, Amount: units(1)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
