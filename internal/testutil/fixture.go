package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"SynthLedger/internal/core"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"
	"SynthLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	EngineAddr = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	UnitAddr   = common.HexToAddress("0x00000000000000000000000000000000000d0001")
	WETH       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	WBTC       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	Faucet     = common.HexToAddress("0x00000000000000000000000000000000000fa0c1")

	Alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	Bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	Carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	ErrInjected = errors.New("testutil: injected failure")
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ScriptedToken wraps a token and lets a test intercept transfers.
// BeforeTransfer runs first; a non-nil error aborts the transfer.
type ScriptedToken struct {
	core.Token
	BeforeTransfer func(from, to common.Address, amount *uint256.Int) error
}

func (s *ScriptedToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	if s.BeforeTransfer != nil {
		if err := s.BeforeTransfer(from, to, amount); err != nil {
			return err
		}
	}
	return s.Token.Transfer(from, to, amount)
}

// ScriptedIssuer wraps the mint capability with optional failures.
type ScriptedIssuer struct {
	core.UnitIssuer
	FailMint bool
	FailBurn bool
}

func (s *ScriptedIssuer) Mint(to common.Address, amount *uint256.Int) error {
	if s.FailMint {
		return ErrInjected
	}
	return s.UnitIssuer.Mint(to, amount)
}

func (s *ScriptedIssuer) Burn(amount *uint256.Int) error {
	if s.FailBurn {
		return ErrInjected
	}
	return s.UnitIssuer.Burn(amount)
}

// Fixture is a ready engine over in-memory WETH and WBTC collateral, the
// unit token and a quote book driven by a settable clock.
type Fixture struct {
	Engine   *core.Engine
	Clock    *Clock
	Quotes   *oracle.QuoteBook
	Registry *state.CollateralRegistry
	Metrics  *observability.Metrics

	Collateral map[common.Address]*ScriptedToken
	Tokens     map[common.Address]*token.Ledger
	Unit       *token.Ledger
	UnitTok    *ScriptedToken
	Issuer     *ScriptedIssuer
	Persisted  chan core.CoreOutput

	round uint64
}

// FixtureConfig tweaks the engine a Fixture builds.
type FixtureConfig struct {
	Metrics   *observability.Metrics
	DBChecker core.DBIdempotencyChecker
}

func NewFixture(t testing.TB) *Fixture {
	return NewFixtureWith(t, FixtureConfig{})
}

func NewFixtureWith(t testing.TB, cfg FixtureConfig) *Fixture {
	t.Helper()

	registry, err := state.NewCollateralRegistry([]state.CollateralAsset{
		{Address: WETH, Symbol: "WETH", FeedID: "ETH-USD"},
		{Address: WBTC, Symbol: "WBTC", FeedID: "BTC-USD"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	supply := fpmath.Units(1_000_000_000)
	f := &Fixture{
		Clock:      NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Quotes:     oracle.NewQuoteBook(),
		Registry:   registry,
		Metrics:    cfg.Metrics,
		Collateral: make(map[common.Address]*ScriptedToken),
		Tokens:     make(map[common.Address]*token.Ledger),
		Persisted:  make(chan core.CoreOutput, 1024),
	}

	collateral := make(map[common.Address]core.Token)
	for _, a := range registry.Assets() {
		l, err := token.NewCollateral(a.Symbol, map[common.Address]*uint256.Int{Faucet: supply})
		if err != nil {
			t.Fatalf("collateral %s: %v", a.Symbol, err)
		}
		st := &ScriptedToken{Token: l}
		f.Tokens[a.Address] = l
		f.Collateral[a.Address] = st
		collateral[a.Address] = st
	}

	unit, capability := token.NewUnit("sUSD", EngineAddr)
	f.Unit = unit
	f.UnitTok = &ScriptedToken{Token: unit}
	f.Issuer = &ScriptedIssuer{UnitIssuer: capability}

	f.Engine, err = core.NewEngine(core.EngineConfig{
		Address:     EngineAddr,
		Registry:    registry,
		Collateral:  collateral,
		Unit:        f.UnitTok,
		UnitAddress: UnitAddr,
		Issuer:      f.Issuer,
		Feed:        f.Quotes,
		Clock:       f.Clock.Now,
		LRUCapacity: 1024,
		DBChecker:   cfg.DBChecker,
		Metrics:     cfg.Metrics,
		Logger:      zerolog.Nop(),
		PersistChan: f.Persisted,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	f.SetPrice(WETH, 2000)
	f.SetPrice(WBTC, 60000)
	return f
}

// SetPrice publishes a whole-dollar price for asset at the current clock.
func (f *Fixture) SetPrice(asset common.Address, usd int64) {
	f.SetRawPrice(asset, usd*100_000_000)
}

// SetRawPrice publishes an 8-digit feed price for asset at the current clock.
func (f *Fixture) SetRawPrice(asset common.Address, price int64) {
	f.round++
	f.Quotes.Update(asset, oracle.NewQuote(f.round, price, f.Clock.Now()))
}

// Fund sends whole units of a collateral asset from the faucet to user.
func (f *Fixture) Fund(t testing.TB, user, asset common.Address, units uint64) {
	t.Helper()
	if err := f.Tokens[asset].Transfer(Faucet, user, fpmath.Units(units)); err != nil {
		t.Fatalf("fund %s: %v", user.Hex(), err)
	}
}

// Drain discards queued persistence outputs and returns how many there were.
func (f *Fixture) Drain() int {
	n := 0
	for {
		select {
		case <-f.Persisted:
			n++
		default:
			return n
		}
	}
}
